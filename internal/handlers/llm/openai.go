// Package llm implements the batch handler capability on top of the OpenAI
// chat completion API: each flushed batch's transcript is sent as one turn.
package llm

import (
	"context"
	"errors"

	"github.com/dkeye/Scribe/internal/core"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const defaultSystemPrompt = "You are a meeting assistant. Summarize the transcript fragment you receive in one or two sentences."

type Handler struct {
	client *openai.Client
	model  string
	system string
}

func NewHandler(apiKey, model string) (*Handler, error) {
	if apiKey == "" {
		return nil, errors.New("llm handler requires an API key")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Handler{
		client: openai.NewClient(apiKey),
		model:  model,
		system: defaultSystemPrompt,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, req *core.BatchRequest) (*core.BatchResponse, error) {
	if req.Transcript == "" {
		// Audio-only batch; nothing for the language model to chew on.
		return &core.BatchResponse{}, nil
	}

	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: h.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: h.system},
			{Role: openai.ChatMessageRoleUser, Content: req.Transcript},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion response")
	}

	log.Info().Str("module", "handlers.llm").Str("batch_id", req.BatchID).Str("sid", string(req.SessionID)).Msg("batch summarized")
	return &core.BatchResponse{
		Text:     resp.Choices[0].Message.Content,
		Metadata: map[string]string{"model": h.model},
	}, nil
}
