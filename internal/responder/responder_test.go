package responder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/pkg/logging"
)

type stubClient struct {
	reply string
	err   error
	last  Request
}

func (s *stubClient) Reply(_ context.Context, req Request) (string, error) {
	s.last = req
	return s.reply, s.err
}

func TestFallbackPassesThroughSuccess(t *testing.T) {
	inner := &stubClient{reply: "we open at 9am"}
	f := NewFallback(inner, "sorry, try later", logging.New("error"))

	got, err := f.Reply(context.Background(), Request{Text: "when do you open?"})
	require.NoError(t, err)
	assert.Equal(t, "we open at 9am", got)
}

func TestFallbackMasksErrors(t *testing.T) {
	inner := &stubClient{err: errors.New("model unavailable")}
	f := NewFallback(inner, "sorry, try later", logging.New("error"))

	got, err := f.Reply(context.Background(), Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "sorry, try later", got)
}

func TestSystemPromptIncludesDetail(t *testing.T) {
	plain := systemPrompt(Request{})
	assert.NotContains(t, plain, "Known context")

	withDetail := systemPrompt(Request{Detail: "order #4211 shipped Tuesday"})
	assert.Contains(t, withDetail, "order #4211 shipped Tuesday")
}

func TestChatTurnsDropBlanksAndMapRoles(t *testing.T) {
	now := time.Now()
	req := Request{
		Text: "and the price?",
		History: []conversation.TranscriptMessage{
			{Role: conversation.RoleUser, Body: "do you ship abroad?", Timestamp: now},
			{Role: conversation.RoleAssistant, Body: "yes, worldwide", Timestamp: now},
			{Role: conversation.RoleOperator, Body: "checked with the warehouse", Timestamp: now},
			{Role: conversation.RoleUser, Body: "   ", Timestamp: now},
		},
	}

	turns := chatTurns(req)
	require.Len(t, turns, 4)
	assert.False(t, turns[0].fromAssistant)
	assert.True(t, turns[1].fromAssistant)
	assert.True(t, turns[2].fromAssistant, "operator turns read as assistant turns")
	assert.Equal(t, "and the price?", turns[3].text)
	assert.False(t, turns[3].fromAssistant)
}

type fakeConverseAPI struct {
	in  *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeConverseAPI) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = params
	return f.out, f.err
}

func TestBedrockReply(t *testing.T) {
	api := &fakeConverseAPI{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: "  Shipping takes 3 days.  "},
					},
				},
			},
		},
	}
	client, err := NewBedrockClient(api, "anthropic.claude-3-haiku")
	require.NoError(t, err)

	reply, err := client.Reply(context.Background(), Request{
		Text: "how long is shipping?",
		History: []conversation.TranscriptMessage{
			{Role: conversation.RoleUser, Body: "hi"},
			{Role: conversation.RoleAssistant, Body: "hello, how can I help?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Shipping takes 3 days.", reply)

	require.NotNil(t, api.in)
	assert.Equal(t, "anthropic.claude-3-haiku", *api.in.ModelId)
	require.Len(t, api.in.Messages, 3)
	assert.Equal(t, brtypes.ConversationRoleUser, api.in.Messages[2].Role)
}

func TestBedrockReplyEmptyOutput(t *testing.T) {
	api := &fakeConverseAPI{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{Role: brtypes.ConversationRoleAssistant},
			},
		},
	}
	client, err := NewBedrockClient(api, "anthropic.claude-3-haiku")
	require.NoError(t, err)

	_, err = client.Reply(context.Background(), Request{Text: "hello"})
	assert.Error(t, err)
}

func TestNewBedrockClientValidation(t *testing.T) {
	_, err := NewBedrockClient(nil, "model")
	assert.Error(t, err)

	_, err = NewBedrockClient(&fakeConverseAPI{}, "  ")
	assert.Error(t, err)
}
