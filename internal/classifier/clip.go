package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CLIPClient calls a contrastive image-text model server over HTTP.
type CLIPClient struct {
	baseURL    string
	httpClient *http.Client
}

type classifyRequest struct {
	// Image is base64-encoded JPEG.
	Image  string   `json:"image"`
	Labels []string `json:"labels"`
}

type classifyResponse struct {
	Scores []float64 `json:"scores"`
}

// NewCLIPClient creates a client for the image classification endpoint.
func NewCLIPClient(baseURL string, timeout time.Duration) *CLIPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CLIPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Scores returns a per-label probability vector for the image. The server
// softmaxes the similarity logits, so the vector sums to 1 over the labels.
func (c *CLIPClient) Scores(ctx context.Context, imageJPEG []byte, labels []string) ([]float64, error) {
	requestBody, err := json.Marshal(classifyRequest{
		Image:  base64.StdEncoding.EncodeToString(imageJPEG),
		Labels: labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/classify", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classification service returned status %d", resp.StatusCode)
	}

	var classifyResp classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&classifyResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(classifyResp.Scores) != len(labels) {
		return nil, fmt.Errorf("score count mismatch: got %d for %d labels", len(classifyResp.Scores), len(labels))
	}

	return classifyResp.Scores, nil
}
