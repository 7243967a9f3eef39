// Package llm provides an HTTP client for OpenAI-compatible chat completion
// backends: a local inference server, OpenRouter, and an alternate hosted
// gateway with a looser response shape.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/tomasmach/banter/config"
)

const (
	ProviderLocal      = "local"
	ProviderOpenRouter = "openrouter"
	ProviderGateway    = "gateway"
)

// DefaultReply is returned when the backend answers without any usable text.
const DefaultReply = "No response generated."

const (
	defaultLocalURL      = "http://localhost:1234"
	defaultOpenRouterURL = "https://openrouter.ai/api"
	maxErrorBody         = 512
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UpstreamError is returned for any failed call to the completion backend:
// transport errors, non-2xx statuses and undecodable bodies.
type UpstreamError struct {
	Provider   string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	limiter    *rate.Limiter // nil when requests are not paced
}

func New(cfg *config.LLMConfig) *Client {
	c := &Client{
		cfg: *cfg,
		// A zero timeout leaves the call unbounded, like http.DefaultClient.
		httpClient: &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second},
	}
	if n := cfg.MaxRequestsPerMinute; n > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
	return c
}

func (c *Client) endpoint() (base, key string) {
	switch c.cfg.Provider {
	case ProviderOpenRouter:
		base = c.cfg.OpenRouterURL
		if base == "" {
			base = defaultOpenRouterURL
		}
		key = c.cfg.OpenRouterKey
	case ProviderGateway:
		base = c.cfg.GatewayURL
		key = c.cfg.GatewayKey
	default:
		base = c.cfg.LocalURL
		if base == "" {
			base = defaultLocalURL
		}
	}
	return strings.TrimRight(base, "/"), key
}

// Complete sends messages to the configured backend and returns the reply
// text with any leading reasoning block removed.
func (c *Client) Complete(ctx context.Context, messages []Message, model string) (string, error) {
	provider := c.cfg.Provider
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &UpstreamError{Provider: provider, Err: err}
		}
	}

	data, err := json.Marshal(map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	base, key := c.endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if provider == ProviderOpenRouter {
		req.Header.Set("HTTP-Referer", "https://github.com/tomasmach/banter")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", &UpstreamError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       summarizeBody(resp.Header.Get("Content-Type"), body),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	content, err := extractContent(provider, raw)
	if err != nil {
		return "", &UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	reply, thinking := StripReasoning(content)
	if thinking != "" {
		slog.Debug("llm reasoning stripped", "provider", provider, "model", model, "thinking", thinking)
	}
	return reply, nil
}

type completionResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Text          string `json:"text"`
	GeneratedText string `json:"generated_text"`
}

// extractContent pulls the reply text out of a completion body. The gateway
// provider walks a fallback chain because its backends disagree on shape.
func extractContent(provider string, raw []byte) (string, error) {
	var r completionResponse
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []completionResponse
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", err
		}
		if len(list) > 0 {
			r = list[0]
		}
	} else if err := json.Unmarshal(trimmed, &r); err != nil {
		return "", err
	}

	var messageContent, choiceText string
	if len(r.Choices) > 0 {
		if r.Choices[0].Message != nil {
			messageContent = r.Choices[0].Message.Content
		}
		choiceText = r.Choices[0].Text
	}

	candidates := []string{messageContent}
	if provider == ProviderGateway {
		candidates = append(candidates, choiceText, r.Text, r.GeneratedText)
	}
	for _, s := range candidates {
		if s != "" {
			return s, nil
		}
	}
	return DefaultReply, nil
}

var reasoningBlock = regexp.MustCompile(`(?is)^\s*<think>(.*?)</think>`)

// StripReasoning removes a single leading <think>...</think> block, matched
// case-insensitively and non-greedily, and returns the trimmed remainder along
// with the trimmed reasoning text.
func StripReasoning(s string) (reply, thinking string) {
	m := reasoningBlock.FindStringSubmatchIndex(s)
	if m == nil {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[m[1]:]), strings.TrimSpace(s[m[2]:m[3]])
}

// summarizeBody shortens an error response body for logging. HTML error pages
// from proxies are reduced to their visible text.
func summarizeBody(contentType string, body []byte) string {
	text := string(body)
	if strings.Contains(strings.ToLower(contentType), "html") {
		text = htmlText(body)
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxErrorBody {
		n := maxErrorBody
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n] + "..."
	}
	return text
}

func htmlText(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}
