package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veoflow/api/internal/config"
	"github.com/veoflow/api/internal/pkg/logger"
)

type contextKey string

const apiKeyContextKey contextKey = "gemini-api-key"

// WithAPIKey returns a context whose Gemini calls use the given key instead
// of the server key.
func WithAPIKey(ctx context.Context, apiKey string) context.Context {
	if apiKey == "" {
		return ctx
	}
	return context.WithValue(ctx, apiKeyContextKey, apiKey)
}

// APIKeyFrom returns the key set by WithAPIKey, if any.
func APIKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey).(string)
	return key
}

// APIError is a non-2xx answer from the Gemini API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API error (status %d): %s", e.StatusCode, e.Body)
}

// HTTPStatusCode lets retry and error classification see the status.
func (e *APIError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// GeminiClient handles communication with the Gemini API (text and Veo video)
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

// Part is one piece of content
type Part struct {
	Text string `json:"text,omitempty"`
}

// Content is a role-tagged list of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerationConfig constrains the model output
type GenerationConfig struct {
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
	Temperature      *float64               `json:"temperature,omitempty"`
}

// GenerateContentRequest represents the request body for generateContent
type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerateContentResponse represents the response from generateContent
type GenerateContentResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Text joins the parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ImageInput is an inline seed image
type ImageInput struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

// VideoInput references a previously generated clip
type VideoInput struct {
	URI string `json:"uri"`
}

// VideoRequest describes one clip generation. Image and Video are exclusive:
// Video extends an earlier clip, Image seeds a fresh one.
type VideoRequest struct {
	Model       string
	Prompt      string
	Image       *ImageInput
	Video       *VideoInput
	AspectRatio string
	Resolution  string
}

type videoInstance struct {
	Prompt string      `json:"prompt"`
	Image  *ImageInput `json:"image,omitempty"`
	Video  *VideoInput `json:"video,omitempty"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	SampleCount int    `json:"sampleCount"`
}

type predictLongRunningRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

// OperationError is the error embedded in a finished operation
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// GeneratedSample is one produced clip
type GeneratedSample struct {
	Video VideoInput `json:"video"`
}

// OperationResponse is the payload of a successful video operation
type OperationResponse struct {
	GenerateVideoResponse struct {
		GeneratedSamples        []GeneratedSample `json:"generatedSamples"`
		RaiMediaFilteredCount   int               `json:"raiMediaFilteredCount,omitempty"`
		RaiMediaFilteredReasons []string          `json:"raiMediaFilteredReasons,omitempty"`
	} `json:"generateVideoResponse"`
}

// Operation is a long-running video generation
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *OperationError    `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

// VideoURI returns the first clip's locator, or "" when none was produced.
func (o *Operation) VideoURI() string {
	if o == nil || o.Response == nil || len(o.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return ""
	}
	return o.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
}

// NewGeminiClient creates a new Gemini API client
func NewGeminiClient(cfg *config.GeminiConfig, log *logger.Logger) *GeminiClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		log:        log,
	}
}

// GenerateContent runs a generateContent call and returns the response text
func (c *GeminiClient) GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (string, error) {
	var resp GenerateContentResponse
	if err := c.post(ctx, fmt.Sprintf("/models/%s:generateContent", model), req, &resp); err != nil {
		return "", err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	return resp.Text(), nil
}

// SubmitVideo starts a video generation and returns its operation
func (c *GeminiClient) SubmitVideo(ctx context.Context, req *VideoRequest) (*Operation, error) {
	body := predictLongRunningRequest{
		Instances: []videoInstance{{
			Prompt: req.Prompt,
			Image:  req.Image,
			Video:  req.Video,
		}},
		Parameters: videoParameters{
			AspectRatio: req.AspectRatio,
			Resolution:  req.Resolution,
			SampleCount: 1,
		},
	}

	var op Operation
	if err := c.post(ctx, fmt.Sprintf("/models/%s:predictLongRunning", req.Model), body, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, fmt.Errorf("video submission returned no operation name")
	}
	return &op, nil
}

// GetOperation fetches the current state of a long-running operation
func (c *GeminiClient) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	if err := c.get(ctx, "/"+strings.TrimLeft(name, "/"), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Download fetches the bytes of a generated clip. The link needs the API key
// as a query parameter.
func (c *GeminiClient) Download(ctx context.Context, uri string) ([]byte, error) {
	apiKey := c.keyFor(ctx)
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid download uri: %w", err)
	}
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.log.Debug("[Gemini API] → GET download", "uri", uri)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read video: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("[Gemini API] ✗ download failed", "uri", uri, "status", resp.StatusCode)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	c.log.Debug("[Gemini API] ← download", "uri", uri, "bytes", len(data))
	return data, nil
}

// Ping verifies that the key in ctx (or the server key) is accepted
func (c *GeminiClient) Ping(ctx context.Context) error {
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	return c.get(ctx, "/models?pageSize=1", &out)
}

// IsConfigured returns true if the client has a server-side key
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *GeminiClient) keyFor(ctx context.Context) string {
	if key := APIKeyFrom(ctx); key != "" {
		return key
	}
	return c.apiKey
}

// post sends a POST request with JSON body
func (c *GeminiClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(ctx, req, result)
}

// get sends a GET request and parses JSON response
func (c *GeminiClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(ctx, req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *GeminiClient) doRequest(ctx context.Context, req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.keyFor(ctx))

	c.log.Debug("[Gemini API] →", "method", req.Method, "path", req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("[Gemini API] ✗ request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug("[Gemini API] ←", "status", resp.StatusCode, "method", req.Method, "path", req.URL.Path, "body", truncate(string(respBody), 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SniffVideoMime guesses the container of downloaded clip bytes.
func SniffVideoMime(b []byte) string {
	if len(b) >= 12 && bytes.Contains(b[:12], []byte("ftyp")) {
		return "video/mp4"
	}
	if len(b) >= 4 && b[0] == 0x1A && b[1] == 0x45 && b[2] == 0xDF && b[3] == 0xA3 {
		return "video/webm"
	}
	return "video/mp4"
}
