package kernel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// Client talks to the Kernel HTTP API. It implements ports.JobSource and
// ports.Uploader for the worker process.
type Client struct {
	baseURL   string
	http      *http.Client
	freshness time.Duration
}

// NewClient creates a client for baseURL. freshness bounds the age of the
// pending jobs it asks for; zero leaves the choice to the server.
func NewClient(baseURL string, freshness time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		freshness: freshness,
	}
}

// apiError is the error body every non-2xx kernel response carries.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OwnerID string `json:"owner_id,omitempty"`
}

type jobEnvelope struct {
	Job domain.Job `json:"job"`
}

// ListPending returns pending and waiting_for_selection jobs.
func (c *Client) ListPending(ctx context.Context) ([]domain.Job, error) {
	q := url.Values{}
	q.Add("status", string(domain.JobStatusPending))
	q.Add("status", string(domain.JobStatusWaitingForSelection))
	if c.freshness > 0 {
		q.Set("max_age_seconds", strconv.Itoa(int(c.freshness/time.Second)))
	}

	var out struct {
		Jobs []domain.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return out.Jobs, nil
}

func (c *Client) UpdateJobStatus(ctx context.Context, id domain.JobID, status domain.JobStatus, message string) (domain.Job, error) {
	body := map[string]string{"status": string(status)}
	if message != "" {
		body["message"] = message
	}
	var out jobEnvelope
	if err := c.do(ctx, http.MethodPatch, "/v1/jobs/"+url.PathEscape(string(id)), body, &out); err != nil {
		return domain.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	return out.Job, nil
}

func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/v1/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (c *Client) SubmitJob(ctx context.Context, sub domain.Submission) (domain.Job, error) {
	var out jobEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", sub, &out); err != nil {
		return domain.Job{}, fmt.Errorf("submit job: %w", err)
	}
	return out.Job, nil
}

func (c *Client) Status(ctx context.Context) (domain.SystemStatus, error) {
	var out domain.SystemStatus
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return domain.SystemStatus{}, fmt.Errorf("status: %w", err)
	}
	return out, nil
}

// Upload implements ports.Uploader through POST /v1/images.
func (c *Client) Upload(ctx context.Context, fileName, title string, data []byte) (string, error) {
	body := map[string]string{
		"file_name": fileName,
		"title":     title,
		"data":      base64.StdEncoding.EncodeToString(data),
	}
	var out struct {
		DownloadURL string `json:"download_url"`
		FileName    string `json:"file_name"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/images", body, &out); err != nil {
		return "", fmt.Errorf("upload %s: %w", fileName, err)
	}
	return out.DownloadURL, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call kernel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError maps kernel error responses back onto domain errors.
func decodeError(resp *http.Response) error {
	var apiErr apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, apiErr.Message)
	case http.StatusLocked:
		return &domain.BusyError{OwnerID: apiErr.OwnerID}
	case http.StatusServiceUnavailable:
		return domain.ErrWorkerUnavailable
	case http.StatusConflict:
		return fmt.Errorf("%w: %w: %s", domain.ErrPermanent, domain.ErrInvalidTransition, apiErr.Message)
	}

	err := fmt.Errorf("kernel returned status %d: %s", resp.StatusCode, apiErr.Message)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrPermanent, err)
	}
	return err
}

// IsBusy reports whether err carries a busy rejection.
func IsBusy(err error) bool {
	return errors.Is(err, domain.ErrBusy)
}
