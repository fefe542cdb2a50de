package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/store"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// LLMClient implements Judge and StrategyAdvisor against an OpenAI-compatible
// chat completions endpoint. Temperature is pinned to zero so repeated
// evaluations of the same attempt are stable.
type LLMClient struct {
	apiKey     string
	apiURL     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewLLMClient(cfg config.LLMConfig) *LLMClient {
	apiURL := defaultAPIURL
	if cfg.BaseURL != "" {
		apiURL = strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	}
	return &LLMClient{
		apiKey:     cfg.APIKey,
		apiURL:     apiURL,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

const judgeSystemPrompt = `You evaluate whether fetched web content satisfies a retrieval goal.

RULES:
1. Judge only what the content shows, never what it implies might exist elsewhere.
2. Placeholder pages, cookie walls and "enable javascript" shells do NOT satisfy any goal.
3. Respond ONLY with valid JSON in the following format:
{"satisfied": true_or_false, "reason": "one sentence explanation"}
Do not include any other text or explanation.`

func (c *LLMClient) Evaluate(ctx context.Context, intent Intent, attempt store.Attempt) (Judgement, error) {
	if attempt.Status != store.StatusSuccess {
		return Judgement{Satisfied: false, Reason: "attempt did not succeed"}, nil
	}
	userPrompt := fmt.Sprintf(`GOAL: %q
REQUIRED TERMS: %v

TARGET: %s
CONTENT SUMMARY:
%s`, intent.Goal, intent.MustContain, attempt.Target, attempt.ContentSummary)

	raw, err := c.sendRequest(ctx, []message{
		{Role: "system", Content: judgeSystemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return Judgement{}, err
	}

	var j Judgement
	if err := json.Unmarshal([]byte(stripFences(raw)), &j); err != nil {
		return Judgement{}, fmt.Errorf("failed to parse judgement: %w", err)
	}
	return j, nil
}

const advisorSystemPrompt = `You plan the next attempt to fetch web content after earlier attempts fell short.

Available strategies, cheapest first:
- PLAIN_FETCH: one HTTP GET, no script execution
- BROWSER_LOAD: headless browser renders the page
- BROWSER_SCROLL: headless browser scrolls to trigger lazy loading (parameter scroll_count)
- BROWSER_NAVIGATE: headless browser follows a sub-path after loading (parameter follow_path)

RULES:
1. Never repeat a strategy/parameter combination that already appears in the attempt history.
2. Escalate cost only when the history justifies it.
3. Honor the domain advice when it does not conflict with the history.
4. Respond ONLY with valid JSON in the following format:
{"strategy": "STRATEGY_NAME", "parameters": {"timeout_ms": 15000}, "rationale": "one sentence"}
Do not include any other text or explanation.`

func (c *LLMClient) Propose(ctx context.Context, intent Intent, target string, history []store.Attempt, advice []store.Advice) (worker.Directive, error) {
	var hist strings.Builder
	for _, a := range history {
		params, _ := json.Marshal(a.Parameters)
		fmt.Fprintf(&hist, "- strategy=%s params=%s status=%s error=%q\n", a.Strategy, params, a.Status, a.ErrorDetail)
	}
	var notes strings.Builder
	for _, ad := range advice {
		fmt.Fprintf(&notes, "- %s\n", ad.Text)
	}

	userPrompt := fmt.Sprintf(`GOAL: %q
TARGET: %s

ATTEMPT HISTORY (oldest first):
%s
DOMAIN ADVICE:
%s`, intent.Goal, target, hist.String(), notes.String())

	raw, err := c.sendRequest(ctx, []message{
		{Role: "system", Content: advisorSystemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return worker.Directive{}, err
	}

	var resp struct {
		Strategy   string                 `json:"strategy"`
		Parameters map[string]interface{} `json:"parameters"`
		Rationale  string                 `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return worker.Directive{}, fmt.Errorf("failed to parse proposal: %w", err)
	}
	strategy, ok := fetch.ParseStrategy(resp.Strategy)
	if !ok {
		return worker.Directive{}, fmt.Errorf("advisor proposed unknown strategy %q", resp.Strategy)
	}
	return worker.Directive{
		Target:             target,
		StrategyHint:       strategy,
		ParameterOverrides: fetch.Params(resp.Parameters),
		Rationale:          resp.Rationale,
	}, nil
}

func (c *LLMClient) sendRequest(ctx context.Context, messages []message) (string, error) {
	requestBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return openaiResp.Choices[0].Message.Content, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
