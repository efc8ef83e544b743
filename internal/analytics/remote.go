package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finfiles/finfiles/pkg/models"
)

// operationPrompts map each repeatable operation to its instruction.
var operationPrompts = map[models.AnalyticsOperation]string{
	models.OpSummarize:     "Summarize the key disclosures in this SEC filing in under 200 words.",
	models.OpForecast:      "Based only on this SEC filing, describe the company's stated outlook and any guidance.",
	models.OpAnomalyDetect: "Identify any unusual disclosures, risk factors, or red flags in this SEC filing.",
}

// RemoteBackend sends analysis requests to an external chat-completion
// endpoint over HTTP JSON.
type RemoteBackend struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// RemoteOption configures the remote backend.
type RemoteOption func(*RemoteBackend)

// WithRemoteModel sets the model name sent with each request.
func WithRemoteModel(model string) RemoteOption {
	return func(b *RemoteBackend) { b.model = model }
}

// WithRemoteKey sets the bearer token for authenticated endpoints.
func WithRemoteKey(key string) RemoteOption {
	return func(b *RemoteBackend) { b.apiKey = key }
}

// WithRemoteHTTPClient sets a custom HTTP client.
func WithRemoteHTTPClient(client *http.Client) RemoteOption {
	return func(b *RemoteBackend) { b.client = client }
}

// NewRemoteBackend creates a remote backend.
// baseURL is the server URL (e.g., "http://localhost:11434").
func NewRemoteBackend(baseURL string, opts ...RemoteOption) (*RemoteBackend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("analytics: remote backend requires a base URL")
	}
	b := &RemoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   "qwen2.5:7b",
		client:  &http.Client{Timeout: 300 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *RemoteBackend) ID() string { return BackendRemote }

func (b *RemoteBackend) Supports(op models.AnalyticsOperation) bool {
	switch op {
	case models.OpSummarize, models.OpForecast, models.OpAnomalyDetect, models.OpCustom:
		return true
	}
	return false
}

type remoteChatRequest struct {
	Model    string          `json:"model"`
	Messages []remoteMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type remoteMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type remoteChatResponse struct {
	Message remoteMessage `json:"message"`
}

func (b *RemoteBackend) Analyze(ctx context.Context, req Request) (*models.AnalyticsResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrNoDocument
	}

	instruction, ok := operationPrompts[req.Operation]
	if !ok {
		if req.Operation != models.OpCustom {
			return nil, ErrUnsupportedOperation
		}
		instruction = req.Prompt
	}

	prompt := fmt.Sprintf("%s\n\nFiling: %s %s filed %s by %s\n\n%s",
		instruction, req.Filing.AccessionID, req.Filing.FormType, req.Filing.FiledDate.Format("2006-01-02"), req.Filing.CompanyName, req.Text)

	body := remoteChatRequest{
		Model:    b.model,
		Messages: []remoteMessage{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("remote: HTTP %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result remoteChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}
	if result.Message.Content == "" {
		return nil, fmt.Errorf("remote: empty response")
	}
	return &models.AnalyticsResult{Payload: result.Message.Content}, nil
}
