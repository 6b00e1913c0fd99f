// Package gemini submits media URLs to the Gemini API with the fixed
// extraction instruction.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-3-pro-preview"

const videoMIMEType = "video/mp4"

// Options configure the client.
type Options struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// AttachVideo sends the URL as a file-data part alongside the text turn.
	AttachVideo bool
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// generator is the subset of genai.Models the client depends on.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// APIError is an upstream failure carrying the provider's HTTP status.
type APIError struct {
	Code    int
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini error %d (%s): %s", e.Code, e.Status, e.Message)
}

// StatusCode returns the upstream HTTP status.
func (e *APIError) StatusCode() int {
	return e.Code
}

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// Client implements extraction.Client on top of the Gemini SDK.
type Client struct {
	models      generator
	model       string
	attachVideo bool
	config      *genai.GenerateContentConfig
	logger      *zap.Logger
}

// New builds a Gemini-backed client. A missing API key is logged, not
// rejected, so the service still starts and every attempt fails upstream.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		logger.Warn("gemini api key not configured; extraction calls will fail")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	sdk, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newWithGenerator(sdk.Models, opts, logger), nil
}

func newWithGenerator(models generator, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		models:      models,
		model:       model,
		attachVideo: opts.AttachVideo,
		config:      generationConfig(),
		logger:      logger.Named("gemini"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Extract sends one URL and returns the model's text output.
func (c *Client) Extract(ctx context.Context, url string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(UserTurn(url))}
	if c.attachVideo {
		parts = append(parts, genai.NewPartFromURI(url, videoMIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, contents, c.config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", wrapAPIError(err))
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}
	c.logger.Debug("model responded",
		zap.String("url", url),
		zap.String("model", c.model),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

func generationConfig() *genai.GenerateContentConfig {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	safety := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		safety = append(safety, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemInstruction, genai.RoleUser),
		SafetySettings:    safety,
	}
}

func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return err
}
