// Package generator provides reply generators for the scheduler.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/onnwee/s4u-chat/backend/s4u"
)

const defaultModel = "gpt-4o-mini"

// OpenAI streams replies from any OpenAI-compatible chat completion API.
type OpenAI struct {
	client       *openai.Client
	model        string
	systemPrompt string
	minChunk     int
}

// NewOpenAI returns a generator. baseURL may be empty for the default endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string) *OpenAI {
	if model == "" {
		model = defaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(cfg),
		model:        model,
		systemPrompt: systemPrompt,
		minChunk:     12,
	}
}

// Generate implements s4u.Generator.
func (g *OpenAI) Generate(ctx context.Context, req s4u.Request) (s4u.Stream, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, g.request(req))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	return &openAIStream{stream: stream, co: newCoalescer(g.minChunk)}, nil
}

func (g *OpenAI) request(req s4u.Request) openai.ChatCompletionRequest {
	var msgs []openai.ChatCompletionMessage
	if g.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Name:    nameField(req.Message.SenderID),
		Content: fmt.Sprintf("%s: %s", req.Message.SenderName, req.Message.Text),
	})
	return openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: msgs,
		Stream:   true,
	}
}

// nameField keeps only characters the API accepts in the name field.
func nameField(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		}
		if len(out) == 64 {
			break
		}
	}
	return string(out)
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	co     *coalescer
	ready  []string
	done   bool
}

func (s *openAIStream) Recv() (string, error) {
	for len(s.ready) == 0 {
		if s.done {
			return "", io.EOF
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.ready = s.co.finalize()
			continue
		}
		if err != nil {
			return "", err
		}
		for _, ch := range resp.Choices {
			s.ready = append(s.ready, s.co.consume(ch.Delta.Content)...)
		}
	}
	next := s.ready[0]
	s.ready = s.ready[1:]
	return next, nil
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
