package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPlainCustomerText(t *testing.T) {
	cmd, err := Classify("hi, is the shop open today?", Context{})
	require.NoError(t, err)
	assert.Equal(t, PlainContent, cmd.Kind)
	assert.False(t, cmd.IsRemote())
}

func TestClassifyLocalTakeoverAndRelease(t *testing.T) {
	op := Context{FromOperator: true}

	cmd, err := Classify("cmd", op)
	require.NoError(t, err)
	assert.Equal(t, LocalTakeover, cmd.Kind)

	cmd, err = Classify("  dmc  ", op)
	require.NoError(t, err)
	assert.Equal(t, LocalRelease, cmd.Kind)
}

func TestLocalWordsFromCustomerAreContent(t *testing.T) {
	for _, text := range []string{"cmd", "dmc"} {
		cmd, err := Classify(text, Context{})
		require.NoError(t, err)
		assert.Equal(t, PlainContent, cmd.Kind, "customer-side %q must not toggle modes", text)
	}
}

func TestClassifyReset(t *testing.T) {
	cmd, err := Classify("DELETE", Context{})
	require.NoError(t, err)
	assert.Equal(t, ResetData, cmd.Kind)

	// Only the exact keyword resets; casing and embedding do not.
	for _, text := range []string{"delete", "please DELETE this", "DELETED"} {
		cmd, err = Classify(text, Context{})
		require.NoError(t, err)
		assert.Equal(t, PlainContent, cmd.Kind)
	}

	// Operator typing DELETE in a chat is ordinary content, not a reset.
	cmd, err = Classify("DELETE", Context{FromOperator: true})
	require.NoError(t, err)
	assert.Equal(t, PlainContent, cmd.Kind)
}

func TestClassifyRemoteCommands(t *testing.T) {
	ctrl := Context{FromControl: true}

	cases := []struct {
		text  string
		kind  Kind
		phone string
		body  string
	}{
		{"/5215551234567", RemoteTakeover, "5215551234567", ""},
		{"?5215551234567", RemoteRelease, "5215551234567", ""},
		{"#5215551234567", RemoteFollowUp, "5215551234567", ""},
		{"%5215551234567 your order shipped today", RemoteMessage, "5215551234567", "your order shipped today"},
	}
	for _, tc := range cases {
		cmd, err := Classify(tc.text, ctrl)
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.kind, cmd.Kind, tc.text)
		assert.Equal(t, tc.phone, cmd.TargetPhone, tc.text)
		assert.Equal(t, tc.body, cmd.Payload, tc.text)
		assert.True(t, cmd.IsRemote(), tc.text)
	}
}

func TestRemotePrefixesIgnoredOffControlChannel(t *testing.T) {
	// A customer starting a message with a prefix character is just content.
	cmd, err := Classify("/5215551234567", Context{})
	require.NoError(t, err)
	assert.Equal(t, PlainContent, cmd.Kind)
	assert.Empty(t, cmd.TargetPhone)
}

func TestClassifyMalformedRemote(t *testing.T) {
	ctrl := Context{FromControl: true}

	cases := []string{
		"/",                       // no phone at all
		"/12345",                  // too short
		"/1234567890123456",       // too long
		"/52155abc67890",          // non-digit
		"%5215551234567",          // message command without a body
		"%5215551234567    ",      // body is only whitespace
		"?+5215551234567",         // plus sign not accepted
	}
	for _, text := range cases {
		cmd, err := Classify(text, ctrl)
		assert.ErrorIs(t, err, ErrMalformed, text)
		assert.Equal(t, PlainContent, cmd.Kind, text)
	}
}

func TestTrailingTextIgnoredOnNonMessageRemote(t *testing.T) {
	ctrl := Context{FromControl: true}
	cmd, err := Classify("#5215551234567 nudge them please", ctrl)
	require.NoError(t, err)
	assert.Equal(t, RemoteFollowUp, cmd.Kind)
	assert.Empty(t, cmd.Payload)
}
