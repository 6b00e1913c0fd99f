package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/question-extractor/internal/extraction"
	"github.com/JakeFAU/question-extractor/internal/retry"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func TestExtractSendsFixedPayload(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{resp: textResponse(`{"question":"q"}`)}
	c := newWithGenerator(gen, Options{}, zap.NewNop())

	got, err := c.Extract(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	require.Equal(t, `{"question":"q"}`, got)

	require.Len(t, gen.calls, 1)
	call := gen.calls[0]
	require.Equal(t, DefaultModel, call.model)
	require.Len(t, call.contents, 1)
	require.Equal(t, string(genai.RoleUser), call.contents[0].Role)
	require.Len(t, call.contents[0].Parts, 1)
	require.Equal(t, "Analyze this math video and extract JSON: https://youtu.be/abc", call.contents[0].Parts[0].Text)

	require.NotNil(t, call.config.SystemInstruction)
	require.Equal(t, SystemInstruction, call.config.SystemInstruction.Parts[0].Text)
	require.Len(t, call.config.SafetySettings, 4)
	for _, s := range call.config.SafetySettings {
		require.Equal(t, genai.HarmBlockThresholdBlockNone, s.Threshold)
	}
}

func TestExtractAttachesVideoPart(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{resp: textResponse("{}")}
	c := newWithGenerator(gen, Options{Model: "custom-model", AttachVideo: true}, nil)
	require.Equal(t, "custom-model", c.Model())

	_, err := c.Extract(context.Background(), "https://example.com/v.mp4")
	require.NoError(t, err)

	parts := gen.calls[0].contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[1].FileData)
	require.Equal(t, "https://example.com/v.mp4", parts[1].FileData.FileURI)
	require.Equal(t, "video/mp4", parts[1].FileData.MIMEType)
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	t.Run("RateLimitCarriesStatus", func(t *testing.T) {
		t.Parallel()
		gen := &fakeGenerator{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}}
		c := newWithGenerator(gen, Options{}, nil)

		_, err := c.Extract(context.Background(), "u")
		require.Error(t, err)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, 429, apiErr.StatusCode())
		require.Equal(t, retry.ClassRateLimited, retry.Classify(err))
	})

	t.Run("Transient", func(t *testing.T) {
		t.Parallel()
		gen := &fakeGenerator{err: fmt.Errorf("dial tcp: connection refused")}
		c := newWithGenerator(gen, Options{}, nil)

		_, err := c.Extract(context.Background(), "u")
		require.ErrorContains(t, err, "connection refused")
		require.Equal(t, retry.ClassTransient, retry.Classify(err))
	})

	t.Run("EmptyText", func(t *testing.T) {
		t.Parallel()
		c := newWithGenerator(&fakeGenerator{resp: textResponse("   ")}, Options{}, nil)
		_, err := c.Extract(context.Background(), "u")
		require.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("NilResponse", func(t *testing.T) {
		t.Parallel()
		c := newWithGenerator(&fakeGenerator{}, Options{}, nil)
		_, err := c.Extract(context.Background(), "u")
		require.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestSystemInstructionListsTaxonomy(t *testing.T) {
	t.Parallel()

	for _, ch := range extraction.Chapters() {
		require.Contains(t, SystemInstruction, fmt.Sprintf("%d: %s", int(ch), ch))
	}
	require.Contains(t, SystemInstruction, "LaTeX")
	require.True(t, strings.HasSuffix(strings.TrimSpace(SystemInstruction), `"chapter_id": 0 }`))
}

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	calls []generateCall
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: config})
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}
