package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/service"
)

// Client talks to a serverless video runner endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	endpointID string
	webhookURL string
	httpClient *http.Client
	log        *slog.Logger
}

type Options struct {
	BaseURL    string
	EndpointID string
	APIKey     string
	WebhookURL string
	Timeout    time.Duration
}

type runInput struct {
	Prompt      string  `json:"prompt"`
	DurationSec int     `json:"durationSec"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Seed        *int64  `json:"seed"`
	Cfg         float64 `json:"cfg"`
}

type runRequest struct {
	Input   runInput `json:"input"`
	Webhook string   `json:"webhook,omitempty"`
}

// JobDocument is the runner's view of a job. Webhook deliveries and status
// polls share this shape.
type JobDocument struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ArtifactRef extracts the stored video location from the output, if any.
func (d JobDocument) ArtifactRef() string {
	if len(d.Output) == 0 {
		return ""
	}
	var out struct {
		R2URL string `json:"r2Url"`
	}
	if err := json.Unmarshal(d.Output, &out); err != nil {
		return ""
	}
	return out.R2URL
}

func (d JobDocument) Event() service.RunnerEvent {
	return service.RunnerEvent{
		ID:          d.ID,
		Status:      d.Status,
		ArtifactRef: d.ArtifactRef(),
		Error:       d.Error,
	}
}

func NewClient(opts Options, log *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		endpointID: opts.EndpointID,
		webhookURL: opts.WebhookURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// SubmitJob queues the job on the runner and returns the runner's job id.
func (c *Client) SubmitJob(ctx context.Context, job *models.Job) (string, error) {
	payload := runRequest{
		Input: runInput{
			Prompt:      job.Prompt,
			DurationSec: job.DurationSec,
			Seed:        job.Seed,
			Cfg:         service.DefaultCfg,
		},
		Webhook: c.webhookURL,
	}
	if job.ImageURL != nil {
		payload.Input.ImageURL = *job.ImageURL
	}
	if job.Cfg != nil {
		payload.Input.Cfg = *job.Cfg
	}

	var doc JobDocument
	if err := c.do(ctx, http.MethodPost, "run", payload, &doc); err != nil {
		return "", fmt.Errorf("submit job %s: %w", job.ID, err)
	}
	if doc.ID == "" {
		return "", fmt.Errorf("submit job %s: empty runner id in response", job.ID)
	}
	if c.log != nil {
		c.log.Info("runner job submitted", "job_id", job.ID, "runner_ref", doc.ID, "status", doc.Status)
	}
	return doc.ID, nil
}

// FetchStatus polls the runner for a job it accepted earlier.
func (c *Client) FetchStatus(ctx context.Context, runnerRef string) (*service.RunnerEvent, error) {
	var doc JobDocument
	if err := c.do(ctx, http.MethodGet, "status/"+url.PathEscape(runnerRef), nil, &doc); err != nil {
		return nil, fmt.Errorf("fetch status %s: %w", runnerRef, err)
	}
	if doc.ID == "" {
		doc.ID = runnerRef
	}
	ev := doc.Event()
	return &ev, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	fullURL := c.baseURL + "/" + url.PathEscape(c.endpointID) + "/" + path

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call runner: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("runner request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return fmt.Errorf("runner error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
