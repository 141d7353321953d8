package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/entrained/engram-service/internal/config"
	"github.com/entrained/engram-service/internal/metrics"
	registryjudge "github.com/entrained/engram-service/internal/registry/judge"
	registrystore "github.com/entrained/engram-service/internal/registry/store"
)

func init() {
	registryjudge.Register(registryjudge.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryjudge.Judge, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai judge: ENGRAM_OPENAI_API_KEY is required")
	}
	return &OpenAIJudge{
		apiKey:  cfg.OpenAIAPIKey,
		model:   cfg.JudgeModelName,
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		client:  &http.Client{Timeout: cfg.JudgeTimeout},
	}, nil
}

type OpenAIJudge struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func (j *OpenAIJudge) ModelName() string { return j.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat json.RawMessage `json:"response_format"`
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

// Judge sends a system and user prompt with JSON response mode enabled and
// returns the raw JSON body of the model's reply. A low temperature keeps
// the judgments repeatable.
func (j *OpenAIJudge) Judge(ctx context.Context, system, prompt string) (json.RawMessage, error) {
	if metrics.JudgeLatency != nil {
		defer func(start time.Time) {
			metrics.JudgeLatency.Observe(time.Since(start).Seconds())
		}(time.Now())
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: j.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.1,
		ResponseFormat: json.RawMessage(`{"type":"json_object"}`),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, &registrystore.UpstreamError{Service: "openai-judge", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai judge: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("openai judge: parse response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai judge error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openai judge: empty response")
	}

	content := strings.TrimSpace(result.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("openai judge: response is not valid JSON")
	}
	return json.RawMessage(content), nil
}

var _ registryjudge.Judge = (*OpenAIJudge)(nil)
