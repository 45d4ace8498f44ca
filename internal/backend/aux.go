package backend

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/botwire/inference-gateway/internal/config"
)

// AuxClient serves the preprocessor's auxiliary model calls: audio
// transcription and image description. Built per request around the
// credential acquired for that request.
type AuxClient struct {
	client             *openai.Client
	backend            config.BackendConfig
	transcriptionModel string
	visionModel        string
}

// NewAuxClient builds the auxiliary client against a backend endpoint.
func NewAuxClient(b config.BackendConfig, transcriptionModel, visionModel, secret string) (*AuxClient, error) {
	client, err := NewClient(b, secret)
	if err != nil {
		return nil, err
	}
	return &AuxClient{
		client:             client,
		backend:            b,
		transcriptionModel: transcriptionModel,
		visionModel:        visionModel,
	}, nil
}

// Rekey swaps the underlying client for a new credential. Subsequent
// calls must not reuse a secret that was just demoted, so the caller
// rekeys whenever it rotates the credential mid-request.
func (a *AuxClient) Rekey(secret string) error {
	client, err := NewClient(a.backend, secret)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// Transcribe sends audio bytes to the transcription endpoint.
func (a *AuxClient) Transcribe(ctx context.Context, audio []byte, name string) (string, error) {
	resp, err := a.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    a.transcriptionModel,
		Reader:   bytes.NewReader(audio),
		FilePath: name,
	})
	if err != nil {
		return "", Classify(err)
	}
	return resp.Text, nil
}

// DescribeImage asks the vision model for a short description of one image.
func (a *AuxClient) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.visionModel,
		MaxTokens: 120,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: "Describe this image in one or two short sentences.",
				},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
				},
			},
		}},
	})
	if err != nil {
		return "", Classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision upstream returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
