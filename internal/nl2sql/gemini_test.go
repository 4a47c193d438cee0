package nl2sql

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiGeneratorReturnsText(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{{text: "SELECT * FROM \"Souda\""}}}
	gen := newGeminiGenerator(fake, GeminiConfig{Temperature: 0.1})

	text, err := gen.Generate(context.Background(), "list deals")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM \"Souda\"", text)
	assert.Equal(t, "gemini-2.0-flash", fake.model)
	require.NotNil(t, fake.config.Temperature)
	assert.InDelta(t, 0.1, *fake.config.Temperature, 1e-6)
	assert.Equal(t, "list deals", fake.prompt)
}

func TestGeminiGeneratorRetriesServerErrors(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{
		{err: genai.APIError{Code: 503, Message: "unavailable"}},
		{text: "SELECT 1"},
	}}
	gen := newGeminiGenerator(fake, GeminiConfig{Retries: 1})

	text, err := gen.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", text)
	assert.Equal(t, 2, fake.calls)
}

func TestGeminiGeneratorDoesNotRetryPermanentErrors(t *testing.T) {
	fake := &fakeModels{responses: []fakeResponse{
		{err: genai.APIError{Code: 400, Message: "bad request"}},
		{text: "SELECT 1"},
	}}
	gen := newGeminiGenerator(fake, GeminiConfig{Retries: 1})

	_, err := gen.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrGenerationUnavailable)
	assert.Equal(t, 1, fake.calls)
}

func TestGeminiGeneratorEmptyText(t *testing.T) {
	gen := newGeminiGenerator(&fakeModels{responses: []fakeResponse{{text: "  "}}}, GeminiConfig{})
	_, err := gen.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrGenerationUnavailable)
}

func TestNewGeminiGeneratorRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

type fakeResponse struct {
	text string
	err  error
}

type fakeModels struct {
	responses []fakeResponse
	calls     int
	model     string
	prompt    string
	config    *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.calls >= len(f.responses) {
		return nil, errors.New("unexpected call")
	}
	resp := f.responses[f.calls]
	f.calls++
	f.model = model
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(resp.text, genai.RoleModel)}},
	}, nil
}
