package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/newsflow/pkg/models"
)

const organizationPrompt = `You are a financial entity canonicalizer. Given a raw mention of an organization, return a JSON object with fields: name (canonical legal name), ticker (primary exchange ticker, empty string if private), public (boolean), parent_org (canonical parent name or empty), description (one sentence), sector (GICS sector name), existing (boolean, true if this is an alias of a well-known entity). Return only JSON.`

const clusterPrompt = `You are a financial news analyst. Given summaries of related stories, return a JSON object with fields: summary (2-3 sentence synthesis), theme (short topical label), key_points (array of strings), risks (array of strings), opportunities (array of strings), relevance_score (0.0-1.0, importance to investors), dispersion_score (0.0-1.0, how varied the stories are). Return only JSON.`

// ClientConfig configures the enrichment client. BaseURL points at any
// OpenAI-compatible /v1/chat/completions endpoint.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Retries int
}

// Client implements Enricher and Summarizer against a chat-completions
// endpoint.
type Client struct {
	cfg    ClientConfig
	client *http.Client
}

// NewClient creates an enrichment client with defaults applied.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EnrichOrganization canonicalizes a raw organization mention.
func (c *Client) EnrichOrganization(ctx context.Context, mention string) (*Enrichment, error) {
	raw, err := c.complete(ctx, organizationPrompt, mention)
	if err != nil {
		return nil, err
	}
	var e Enrichment
	if err := ExtractJSON(raw, &e); err != nil {
		return nil, err
	}
	if strings.TrimSpace(e.Name) == "" {
		return nil, fmt.Errorf("%w: missing name", ErrMalformed)
	}
	return &e, nil
}

// SummarizeCluster produces analysis fields from member story texts.
func (c *Client) SummarizeCluster(ctx context.Context, memberTexts []string) (*models.ClusterAnalysis, error) {
	var sb strings.Builder
	for i, t := range memberTexts {
		fmt.Fprintf(&sb, "Story %d:\n%s\n\n", i+1, t)
	}
	raw, err := c.complete(ctx, clusterPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	var a models.ClusterAnalysis
	if err := ExtractJSON(raw, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Summary) == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrMalformed)
	}
	a.RelevanceScore = clamp01(a.RelevanceScore)
	a.DispersionScore = clamp01(a.DispersionScore)
	return &a, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			log.Debug().Int("attempt", attempt).Err(lastErr).Msg("Retrying enrichment request")
		}

		content, retryable, err := c.completeOnce(ctx, url, body)
		if err == nil {
			return content, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("enrichment failed after %d retries: %w", c.cfg.Retries, lastErr)
}

func (c *Client) completeOnce(ctx context.Context, url string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", true, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("chat status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("chat status %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", true, fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("chat api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", true, fmt.Errorf("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, false, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
