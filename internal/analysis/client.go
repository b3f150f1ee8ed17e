package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/triagehub/compat-backend/internal/httpx"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/utils"
)

// ClusterInput is one failure cluster handed to the model for triage.
type ClusterInput struct {
	Module        string   `json:"module"`
	FailuresCount int      `json:"failures_count"`
	ExampleError  string   `json:"example_error,omitempty"`
	ExampleTrace  string   `json:"example_trace,omitempty"`
	TestNames     []string `json:"test_names,omitempty"`
}

// SubmissionPrompt summarizes one submission's persistent failures.
type SubmissionPrompt struct {
	DeviceName     string         `json:"device_name"`
	Fingerprint    string         `json:"fingerprint"`
	AndroidVersion string         `json:"android_version,omitempty"`
	Clusters       []ClusterInput `json:"clusters"`
}

// ClusterInsight is the model's verdict on one cluster. FailuresCount and
// Module echo the input so the aggregator can re-join results.
type ClusterInsight struct {
	Module              string  `json:"module"`
	FailuresCount       int     `json:"failures_count"`
	Severity            string  `json:"severity"`
	Category            string  `json:"category"`
	Summary             string  `json:"summary"`
	Confidence          float64 `json:"confidence"`
	SuggestedAssignment string  `json:"suggested_assignment,omitempty"`
}

type SubmissionInsights struct {
	Clusters []ClusterInsight `json:"clusters"`
	Overview string           `json:"overview,omitempty"`
}

// AIClient is the LLM collaborator surface. The report path never calls
// it; only the background worker does.
type AIClient interface {
	AnalyzeSubmission(ctx context.Context, prompt SubmissionPrompt) (*SubmissionInsights, error)
}

type openAIClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

// NewOpenAIClient builds a client against any OpenAI-compatible responses
// endpoint. Configured entirely from the environment.
func NewOpenAIClient(log *logger.Logger) (AIClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com"), "/")
	model := utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini")
	timeout := time.Duration(utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 120)) * time.Second
	maxRetries := utils.GetEnvAsInt("OPENAI_MAX_RETRIES", 4)

	return &openAIClient{
		log:        log.With("component", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}
func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

func (c *openAIClient) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *openAIClient) do(ctx context.Context, path string, body any, out any) error {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, raw)
			}
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.Jitter(httpx.RetryAfter(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error())
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				out.WriteString(c.Text)
			}
		}
	}
	return out.String()
}

const analysisSystemPrompt = `You are a senior Android compatibility engineer triaging CTS/VTS/GTS/STS failures.
For each failure cluster, assess severity (critical, high, medium, low), assign a functional category, and write a one-paragraph root-cause hypothesis.
Echo back each cluster's module and failures_count unchanged so results can be matched to inputs.`

func (c *openAIClient) AnalyzeSubmission(ctx context.Context, prompt SubmissionPrompt) (*SubmissionInsights, error) {
	user, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: string(user)},
		},
		Temperature: 0.2,
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   "submission_insights",
		"schema": insightsSchema(),
		"strict": true,
	}

	var resp responsesResponse
	if err := c.do(ctx, "/v1/responses", req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := strings.TrimSpace(extractOutputText(resp))
	if text == "" {
		return nil, fmt.Errorf("no output_text in response")
	}

	var insights SubmissionInsights
	if err := json.Unmarshal([]byte(text), &insights); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w; text=%s", err, text)
	}
	return &insights, nil
}

func insightsSchema() map[string]any {
	clusterProps := map[string]any{
		"module":               map[string]any{"type": "string"},
		"failures_count":       map[string]any{"type": "integer"},
		"severity":             map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
		"category":             map[string]any{"type": "string"},
		"summary":              map[string]any{"type": "string"},
		"confidence":           map[string]any{"type": "number"},
		"suggested_assignment": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"overview": map[string]any{"type": "string"},
			"clusters": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"properties":           clusterProps,
					"required":             []string{"module", "failures_count", "severity", "category", "summary", "confidence", "suggested_assignment"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"overview", "clusters"},
		"additionalProperties": false,
	}
}
