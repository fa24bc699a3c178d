// Package generation holds the downstream generative-image client. It is
// invoked by the worker only after a guardrail PASS, never by the pipeline
// itself.
package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// System prompt prepended to every generation call.
const systemPrompt = "You are a food imagery assistant. Only produce food-related " +
	"content: dishes, ingredients, plating, menus, and cooking scenes. Keep the " +
	"output wholesome and photorealistic."

// Output is the parsed generation response.
type Output struct {
	Text string
	// ImageB64 is the generated image as base64, if the model returned one.
	ImageB64 *string
}

// Generator produces content from a prompt and an optional sanitized image.
type Generator interface {
	Generate(ctx context.Context, prompt string, imageJPEG []byte) (*Output, error)
}

// GeminiClient calls the Gemini generateContent REST API.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// GeminiConfig holds configuration for the Gemini client
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Request/response structures for the generateContent endpoint
type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *generateInline `json:"inline_data,omitempty"`
}

type generateInline struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents []generateContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// NewGeminiClient creates a generation client
func NewGeminiClient(config GeminiConfig) *GeminiClient {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &GeminiClient{
		apiKey:  apiKey,
		model:   config.Model,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Generate calls the model with the system prompt, the user prompt, and the
// optional image, and collects text plus any inline image from the reply.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, imageJPEG []byte) (*Output, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("generation API key not configured")
	}

	parts := []generatePart{
		{Text: systemPrompt},
		{Text: prompt},
	}
	if imageJPEG != nil {
		parts = append(parts, generatePart{
			InlineData: &generateInline{
				MimeType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(imageJPEG),
			},
		})
	}

	requestBody, err := json.Marshal(generateRequest{
		Contents: []generateContent{{Parts: parts}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation API returned status %d", resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return parseOutput(&genResp), nil
}

// parseOutput walks the reply parts collecting text and the first inline
// image.
func parseOutput(resp *generateResponse) *Output {
	var text strings.Builder
	var imageB64 *string

	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
				text.WriteString("\n")
			}
			if part.InlineData != nil && imageB64 == nil {
				data := part.InlineData.Data
				imageB64 = &data
				log.Printf("Generation response contains an inline image (%d bytes base64)", len(data))
			}
		}
	}

	out := &Output{Text: strings.TrimSpace(text.String()), ImageB64: imageB64}
	if out.Text == "" {
		if imageB64 != nil {
			out.Text = "Generated successfully."
		} else {
			out.Text = "No response generated."
		}
	}
	return out
}
