package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"modalhub/internal/models"
	"modalhub/internal/service/assistant"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful multi-modal assistant. Answer conversational messages concisely."

const defaultMaxSteps = 8

// ChatOptions configure a ChatGenerator.
type ChatOptions struct {
	SystemPrompt string
	Tools        []tool.BaseTool
	MaxSteps     int
}

// ChatGenerator answers conversation turns with a chat model, running a ReAct
// agent when tools are configured.
type ChatGenerator struct {
	model        model.ToolCallingChatModel
	agent        *react.Agent
	systemPrompt string
}

// NewChatGenerator wires a chat model and optional tools into a generator.
func NewChatGenerator(ctx context.Context, chatModel model.ToolCallingChatModel, opts ChatOptions) (*ChatGenerator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	g := &ChatGenerator{
		model:        chatModel,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
	}
	if g.systemPrompt == "" {
		g.systemPrompt = DefaultSystemPrompt
	}
	if len(opts.Tools) > 0 {
		maxSteps := opts.MaxSteps
		if maxSteps <= 0 {
			maxSteps = defaultMaxSteps
		}
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: opts.Tools,
			},
			MaxStep: maxSteps,
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		g.agent = agent
	}
	return g, nil
}

func (g *ChatGenerator) Generate(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
	messages := g.convertMessages(req)

	var (
		reply string
		err   error
	)
	if g.agent != nil {
		var msg *schema.Message
		msg, err = g.agent.Generate(ctx, messages)
		if err == nil && msg != nil {
			reply = msg.Content
		}
	} else {
		reply, err = g.stream(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("chat model: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, errors.New("chat model returned an empty reply")
	}
	return &assistant.Result{
		Reply:     reply,
		Generator: string(assistant.IntentConversation),
	}, nil
}

func (g *ChatGenerator) stream(ctx context.Context, messages []*schema.Message) (string, error) {
	reader, err := g.model.Stream(ctx, messages)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var full strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		full.WriteString(chunk.Content)
	}
	return full.String(), nil
}

func (g *ChatGenerator) convertMessages(req assistant.Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.History)+2)
	messages = append(messages, schema.SystemMessage(g.systemPrompt))
	for _, msg := range req.History {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return append(messages, schema.UserMessage(req.Prompt))
}
