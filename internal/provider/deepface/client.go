package deepface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxResponseBytes bounds an /analyze answer; one frame yields a few KB
const maxResponseBytes = 1 << 20

// Config holds the configuration for the DeepFace client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Detector   string
	RetryCount int
	// RetryBackoff is the first retry delay; it doubles on every attempt
	RetryBackoff time.Duration
	// YawGain scales the eye-offset ratio before converting it to an angle
	YawGain float64
	// FrontToleranceDegrees is used by CheckLiveness to decide whether the selfie faces the camera
	FrontToleranceDegrees float64
}

// DefaultConfig returns a Config with sensible defaults.
// Frames are time sensitive, so retries are short and few.
func DefaultConfig() Config {
	return Config{
		BaseURL:               "http://localhost:5005",
		Timeout:               10 * time.Second,
		Detector:              "retinaface",
		RetryCount:            1,
		RetryBackoff:          200 * time.Millisecond,
		YawGain:               2.0,
		FrontToleranceDegrees: 12,
	}
}

// Client is the HTTP client for DeepFace API
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates a new DeepFace client
func NewClient(config Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

// Analyze calls POST /analyze with the emotion action, which also returns
// the face region and eye landmarks
func (c *Client) Analyze(ctx context.Context, imageBase64 string) (*AnalyzeResponse, error) {
	req := AnalyzeRequest{
		Img:              imageBase64,
		Actions:          []string{"emotion"},
		Detector:         c.config.Detector,
		EnforceDetection: false,
		Align:            true,
	}

	var resp AnalyzeResponse
	if err := c.doRequestWithRetry(ctx, "POST", "/analyze", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

const maxBackoff = 30 * time.Second

// retryPolicy doubles RetryBackoff on every attempt, up to RetryCount retries
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.RetryBackoff
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Second
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	// WithMaxRetries treats 0 as unlimited
	if c.config.RetryCount <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.config.RetryCount)), ctx)
}

// doRequestWithRetry retries transport failures and temporary statuses.
// Other 4xx answers and undecodable bodies are returned at once.
func (c *Client) doRequestWithRetry(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	err := backoff.Retry(func() error {
		err := c.doRequest(ctx, method, path, body, result)
		var statusErr *StatusError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrInvalidResponse):
			return backoff.Permanent(err)
		case errors.As(err, &statusErr) && !statusErr.Temporary():
			return backoff.Permanent(err)
		}
		return err
	}, c.retryPolicy(ctx))

	var statusErr *StatusError
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ErrInvalidResponse):
		return err
	case errors.As(err, &statusErr) && !statusErr.Temporary():
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeepFaceUnavailable, err)
}

// doRequest executes a single HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	return nil
}
