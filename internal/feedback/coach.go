package feedback

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lildude/strautocoach/internal/client"
)

// Advice is the structured feedback returned by the coach.
type Advice struct {
	Summary         string   `json:"summary"`
	Positives       []string `json:"positives"`
	Improvements    []string `json:"improvements"`
	Recommendations []string `json:"recommendations"`
	Model           string   `json:"model"`
}

// Coach calls the feedback generation service.
type Coach struct {
	rc     *client.Client
	apiKey string
}

// NewCoach returns a client for the coach service at baseURL. A nil hc
// uses http.DefaultClient.
func NewCoach(baseURL, apiKey string, hc *http.Client) (*Coach, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing coach URL: %w", err)
	}
	return &Coach{rc: client.NewClient(u, hc), apiKey: apiKey}, nil
}

// Advise sends the context and returns the coach's feedback.
func (c *Coach) Advise(ctx context.Context, fc Context) (*Advice, error) {
	req, err := c.rc.NewRequest(ctx, http.MethodPost, "feedback", fc)
	if err != nil {
		return nil, fmt.Errorf("creating coach request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var a Advice
	if _, err := c.rc.Do(req, &a); err != nil {
		return nil, fmt.Errorf("requesting feedback: %w", err)
	}
	if a.Summary == "" {
		return nil, fmt.Errorf("coach returned no summary")
	}
	return &a, nil
}
