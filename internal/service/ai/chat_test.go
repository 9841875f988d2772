package ai

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modalhub/internal/config"
	"modalhub/internal/models"
	"modalhub/internal/service/assistant"
	"modalhub/internal/service/todo"
)

type fakeChatModel struct {
	chunks []string
	err    error

	mu    sync.Mutex
	input []*schema.Message
	tools []*schema.ToolInfo
}

func (f *fakeChatModel) record(input []*schema.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = input
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.record(input)
	if f.err != nil {
		return nil, f.err
	}
	content := ""
	for _, c := range f.chunks {
		content += c
	}
	return schema.AssistantMessage(content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.record(input)
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
	return f, nil
}

func TestChatGeneratorStreamsReply(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hello", ", ", "world"}}
	g, err := NewChatGenerator(context.Background(), fake, ChatOptions{})
	require.NoError(t, err)

	res, err := g.Generate(context.Background(), assistant.Request{
		Prompt: "how are you",
		History: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello", Generator: "conversation"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", res.Reply)
	assert.Equal(t, "conversation", res.Generator)
	assert.Nil(t, res.Content)

	require.Len(t, fake.input, 4)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Equal(t, DefaultSystemPrompt, fake.input[0].Content)
	assert.Equal(t, schema.User, fake.input[1].Role)
	assert.Equal(t, schema.Assistant, fake.input[2].Role)
	assert.Equal(t, "how are you", fake.input[3].Content)
}

func TestChatGeneratorCustomSystemPrompt(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"ok"}}
	g, err := NewChatGenerator(context.Background(), fake, ChatOptions{SystemPrompt: "Be brief."})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), assistant.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", fake.input[0].Content)
}

func TestChatGeneratorErrors(t *testing.T) {
	_, err := NewChatGenerator(context.Background(), nil, ChatOptions{})
	require.Error(t, err)

	failing := &fakeChatModel{err: errors.New("quota exceeded")}
	g, err := NewChatGenerator(context.Background(), failing, ChatOptions{})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), assistant.Request{Prompt: "hi"})
	assert.ErrorContains(t, err, "quota exceeded")

	empty := &fakeChatModel{chunks: []string{"  "}}
	g, err = NewChatGenerator(context.Background(), empty, ChatOptions{})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), assistant.Request{Prompt: "hi"})
	assert.ErrorContains(t, err, "empty reply")
}

func TestChatGeneratorWithToolsUsesAgent(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"You have no todos."}}
	store := todo.NewMemoryStore()
	g, err := NewChatGenerator(context.Background(), fake, ChatOptions{Tools: TodoTools(store)})
	require.NoError(t, err)
	require.NotNil(t, g.agent)

	res, err := g.Generate(context.Background(), assistant.Request{Prompt: "what is on my list?"})
	require.NoError(t, err)
	assert.Equal(t, "You have no todos.", res.Reply)

	names := make([]string, 0, len(fake.tools))
	for _, info := range fake.tools {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"list_todos", "add_todo", "complete_todo", "delete_todo"}, names)
}

func TestNewChatModel(t *testing.T) {
	ctx := context.Background()

	_, err := NewChatModel(ctx, "mystery", config.ProviderConfig{APIKey: "k", Model: "m"})
	assert.ErrorContains(t, err, "invalid provider")

	_, err = NewChatModel(ctx, "openai", config.ProviderConfig{Model: "gpt-4o-mini"})
	assert.ErrorContains(t, err, "api_key")

	_, err = NewChatModel(ctx, "openai", config.ProviderConfig{APIKey: "k"})
	assert.ErrorContains(t, err, "model")

	m, err := NewChatModel(ctx, "openai", config.ProviderConfig{APIKey: "test-key", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, m)
}
