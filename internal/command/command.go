// Package command classifies inbound message fragments into control commands
// or plain content. Classification is pure: it never touches stores and every
// fragment maps to exactly one variant.
package command

import (
	"errors"
	"strings"
)

// Kind enumerates the closed set of classifications.
type Kind string

const (
	PlainContent   Kind = "plain_content"
	LocalTakeover  Kind = "local_takeover"
	LocalRelease   Kind = "local_release"
	ResetData      Kind = "reset_data"
	RemoteTakeover Kind = "remote_takeover"
	RemoteRelease  Kind = "remote_release"
	RemoteFollowUp Kind = "remote_follow_up"
	RemoteMessage  Kind = "remote_message"
)

// In-band local commands, typed by the operator inside a customer chat.
const (
	localTakeoverWord = "cmd"
	localReleaseWord  = "dmc"
	resetWord         = "DELETE"
)

// Remote command prefixes, accepted only from the authorized control number.
const (
	prefixTakeover = '/'
	prefixRelease  = '?'
	prefixFollowUp = '#'
	prefixMessage  = '%'
)

// ErrMalformed marks a remote command whose phone number or payload could
// not be parsed. The fragment is dropped, never forwarded.
var ErrMalformed = errors.New("command: malformed remote command")

// Command is the result of classifying one fragment. TargetPhone and
// Payload are set only for remote variants. EventID carries the gateway's
// message id when the caller has one; Classify never sets it.
type Command struct {
	Kind        Kind
	TargetPhone string
	Payload     string
	EventID     string
}

// IsRemote reports whether the command targets another conversation.
func (c Command) IsRemote() bool {
	switch c.Kind {
	case RemoteTakeover, RemoteRelease, RemoteFollowUp, RemoteMessage:
		return true
	}
	return false
}

// Context describes where a fragment came from.
type Context struct {
	// FromOperator is true when the business side sent the fragment inside
	// a customer's chat (a "from me" message on the device).
	FromOperator bool

	// FromControl is true when the fragment originates from the single
	// authorized remote-control phone number.
	FromControl bool
}

// Classify maps a fragment's text plus its channel context to exactly one
// command variant. Malformed remote commands classify as PlainContent and
// return ErrMalformed so the caller can drop and log them.
func Classify(text string, chCtx Context) (Command, error) {
	trimmed := strings.TrimSpace(text)

	if chCtx.FromControl && len(trimmed) > 0 {
		switch trimmed[0] {
		case prefixTakeover, prefixRelease, prefixFollowUp, prefixMessage:
			return classifyRemote(trimmed)
		}
	}

	if chCtx.FromOperator {
		switch trimmed {
		case localTakeoverWord:
			return Command{Kind: LocalTakeover}, nil
		case localReleaseWord:
			return Command{Kind: LocalRelease}, nil
		}
		return Command{Kind: PlainContent}, nil
	}

	if trimmed == resetWord {
		return Command{Kind: ResetData}, nil
	}

	return Command{Kind: PlainContent}, nil
}

func classifyRemote(text string) (Command, error) {
	kind := map[byte]Kind{
		prefixTakeover: RemoteTakeover,
		prefixRelease:  RemoteRelease,
		prefixFollowUp: RemoteFollowUp,
		prefixMessage:  RemoteMessage,
	}[text[0]]

	rest := text[1:]
	phone := rest
	payload := ""
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		phone = rest[:idx]
		payload = strings.TrimSpace(rest[idx+1:])
	}

	if !validPhone(phone) {
		return Command{Kind: PlainContent}, ErrMalformed
	}
	if kind == RemoteMessage && payload == "" {
		return Command{Kind: PlainContent}, ErrMalformed
	}
	if kind != RemoteMessage {
		payload = ""
	}

	return Command{Kind: kind, TargetPhone: phone, Payload: payload}, nil
}

func validPhone(phone string) bool {
	if len(phone) < 7 || len(phone) > 15 {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
