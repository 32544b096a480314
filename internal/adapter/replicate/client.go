// Package replicate renders hint images with a text-to-image model hosted on
// the Replicate HTTP API.
package replicate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
)

// DefaultBaseURL is the public Replicate API root.
const DefaultBaseURL = "https://api.replicate.com/v1"

// maxImageBytes bounds a downloaded image.
const maxImageBytes = 32 << 20

// Prediction statuses reported by the API.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCanceled  = "canceled"
)

// Client implements domain.ImageGenerator against the Replicate predictions API.
type Client struct {
	token        string
	model        string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a Replicate client. model is either "owner/name" for the
// model's latest version or "owner/name:version" for a pinned version.
func NewClient(token, model, baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token:        token,
		model:        model,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// Generate submits the prompt, waits for the prediction to finish and
// downloads the first output image.
func (c *Client) Generate(ctx context.Context, prompt string, spec domain.ImageSpec) ([]byte, error) {
	start := time.Now()
	data, err := c.generate(ctx, prompt, spec)
	c.metrics.ImageAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ImageRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	c.metrics.ImageRequests.WithLabelValues("success").Inc()
	return data, nil
}

func (c *Client) generate(ctx context.Context, prompt string, spec domain.ImageSpec) ([]byte, error) {
	pred, err := c.createPrediction(ctx, prompt, spec)
	if err != nil {
		return nil, err
	}

	for !pred.terminal() {
		if !sleepWithContext(ctx, c.pollInterval) {
			return nil, fmt.Errorf("prediction %s: %w", pred.ID, ctx.Err())
		}
		if pred, err = c.getPrediction(ctx, pred.URLs.Get); err != nil {
			return nil, err
		}
	}

	if pred.Status != statusSucceeded {
		return nil, fmt.Errorf("prediction %s %s: %s", pred.ID, pred.Status, pred.errorMessage())
	}

	url, err := pred.firstOutput()
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", pred.ID, err)
	}
	c.logger.Debug("hint image generated", "prediction_id", pred.ID)
	return c.download(ctx, url)
}

func (c *Client) createPrediction(ctx context.Context, prompt string, spec domain.ImageSpec) (prediction, error) {
	body := createRequest{
		Input: predictionInput{
			Prompt:            prompt,
			Width:             spec.Size,
			Height:            spec.Size,
			NumInferenceSteps: spec.Steps,
			GuidanceScale:     spec.Guidance,
			NumOutputs:        1,
		},
	}

	endpoint := c.baseURL + "/models/" + c.model + "/predictions"
	if _, version, ok := strings.Cut(c.model, ":"); ok {
		endpoint = c.baseURL + "/predictions"
		body.Version = version
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return prediction{}, fmt.Errorf("encode prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")

	return c.doPrediction(req, "create prediction")
}

func (c *Client) getPrediction(ctx context.Context, url string) (prediction, error) {
	if url == "" {
		return prediction{}, errors.New("prediction has no status URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return prediction{}, fmt.Errorf("create request: %w", err)
	}
	return c.doPrediction(req, "get prediction")
}

func (c *Client) doPrediction(req *http.Request, op string) (prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return prediction{}, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return prediction{}, fmt.Errorf("replicate API error: %s: status %d: %s", op, resp.StatusCode, body)
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return prediction{}, fmt.Errorf("decode %s response: %w", op, err)
	}
	return pred, nil
}

// download fetches the image bytes. Data URIs are decoded in place.
func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(url, "data:"); ok {
		_, encoded, found := strings.Cut(rest, ";base64,")
		if !found {
			return nil, errors.New("unsupported data URI output")
		}
		return base64.StdEncoding.DecodeString(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// Replicate API request and response types.

type createRequest struct {
	Version string          `json:"version,omitempty"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumOutputs        int     `json:"num_outputs"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (p prediction) terminal() bool {
	switch p.Status {
	case statusSucceeded, statusFailed, statusCanceled:
		return true
	}
	return false
}

func (p prediction) errorMessage() string {
	var msg string
	if err := json.Unmarshal(p.Error, &msg); err == nil && msg != "" {
		return msg
	}
	if len(p.Error) > 0 && string(p.Error) != "null" {
		return string(p.Error)
	}
	return "no error detail"
}

// firstOutput accepts either a list of URLs or a single URL.
func (p prediction) firstOutput() (string, error) {
	var urls []string
	if err := json.Unmarshal(p.Output, &urls); err == nil {
		if len(urls) == 0 || urls[0] == "" {
			return "", errors.New("prediction returned no outputs")
		}
		return urls[0], nil
	}
	var url string
	if err := json.Unmarshal(p.Output, &url); err == nil && url != "" {
		return url, nil
	}
	return "", fmt.Errorf("unexpected prediction output %s", p.Output)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
