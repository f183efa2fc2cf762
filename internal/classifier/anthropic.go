// Package classifier rates a text against known concepts with an LLM.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/pbaille/reads/internal/domain"
)

const (
	anthropicAPI = "https://api.anthropic.com/v1/messages"
	DefaultModel = "claude-sonnet-4-20250514"
)

// ErrNoAPIKey is returned when the rater is built without a key
var ErrNoAPIKey = errors.New("anthropic api key not set")

// Options configures a ConceptRater
type Options struct {
	APIKey        string
	Model         string
	Endpoint      string
	RatePerSecond float64
	HTTPClient    *http.Client
}

// ConceptRater asks the Anthropic messages API how strongly a text expresses
// each concept
type ConceptRater struct {
	apiKey   string
	model    string
	endpoint string
	concepts []string
	http     *http.Client
	limiter  *rate.Limiter
}

// New creates a ConceptRater for the given concept identifiers
func New(opts Options, concepts []string) (*ConceptRater, error) {
	if opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if len(concepts) == 0 {
		return nil, fmt.Errorf("no concepts to rate")
	}
	c := &ConceptRater{
		apiKey:   opts.APIKey,
		model:    opts.Model,
		endpoint: opts.Endpoint,
		concepts: concepts,
		http:     opts.HTTPClient,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.endpoint == "" {
		c.endpoint = anthropicAPI
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return c, nil
}

// Analyze returns a weight in [0,1] for each known concept the model rated
func (c *ConceptRater) Analyze(ctx context.Context, text string) (domain.ConceptVector, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := c.callAPI(ctx, buildPrompt(text, c.concepts))
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	return parseResponse(resp, c.concepts)
}

func buildPrompt(text string, concepts []string) string {
	var sb strings.Builder

	sb.WriteString("Rate how strongly the reader's text below expresses each value concept. Return JSON only.\n\n")
	sb.WriteString("Concepts:\n")
	for _, c := range concepts {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	sb.WriteString("\nText:\n")
	sb.WriteString(text)
	sb.WriteString("\n\n")

	sb.WriteString(`Return a JSON object with this structure:
{
  "concepts": {"concept_id": 0.4}
}

Rules:
- Use exactly the concept identifiers listed above
- Each rating is 0.0-1.0: 0 means absent, 1 means central to the text
- Rate every listed concept

Return ONLY the JSON, no other text.`)

	return sb.String()
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *ConceptRater) callAPI(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(apiRequest{
		Model:     c.model,
		MaxTokens: 512,
		Messages:  []apiMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}
	for _, part := range apiResp.Content {
		if part.Type == "text" || part.Type == "" {
			return part.Text, nil
		}
	}
	return "", fmt.Errorf("empty response")
}

// parseResponse keeps ratings of known concepts only, clamped to [0,1]
func parseResponse(resp string, concepts []string) (domain.ConceptVector, error) {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var result struct {
		Concepts map[string]float64 `json:"concepts"`
	}
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return nil, fmt.Errorf("parse json: %w (response: %s)", err, resp)
	}

	out := make(domain.ConceptVector, len(concepts))
	for _, c := range concepts {
		w, ok := result.Concepts[c]
		if !ok || math.IsInf(w, 0) {
			continue
		}
		out[c] = domain.Clamp01(w)
	}
	return out, nil
}
