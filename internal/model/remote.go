package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrUpstream is wrapped by every non-2xx response from the model server.
var ErrUpstream = errors.New("model server error")

// DefaultTimeout is the HTTP timeout used when RemoteConfig.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// RemoteConfig configures a RemoteModel.
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client. Tests pass httptest clients here.
	HTTPClient *http.Client
}

type encodeRequest struct {
	DistrictCode int `json:"district_code"`
}

type encodeResponse struct {
	Features []float64 `json:"features"`
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Prediction *float64 `json:"prediction"`
}

// RemoteModel calls a model server over HTTP:
//
//	POST {base}/encode  {"district_code": 16}       -> {"features": [...]}
//	POST {base}/predict {"features": [...]}         -> {"prediction": 123.4}
//
// Calls are wrapped in a circuit breaker and are never retried.
type RemoteModel struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	baseURL string
}

// NewRemoteModel creates a client for the model server at cfg.BaseURL.
func NewRemoteModel(cfg RemoteConfig) (*RemoteModel, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("model server URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "model",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("model.RemoteModel: circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &RemoteModel{client: client, breaker: cb, baseURL: base}, nil
}

// EncodeDistrict asks the server for the encoded row of a district code.
func (m *RemoteModel) EncodeDistrict(ctx context.Context, code int) ([]float64, error) {
	var resp encodeResponse
	if err := m.post(ctx, "/encode", encodeRequest{DistrictCode: code}, &resp); err != nil {
		return nil, err
	}
	if resp.Features == nil {
		return nil, errors.New("model server returned no features")
	}
	return resp.Features, nil
}

// Predict asks the server for the predicted case count of one feature row.
func (m *RemoteModel) Predict(ctx context.Context, features []float64) (float64, error) {
	var resp predictResponse
	if err := m.post(ctx, "/predict", predictRequest{Features: features}, &resp); err != nil {
		return 0, err
	}
	if resp.Prediction == nil {
		return 0, errors.New("model server returned no prediction")
	}
	return *resp.Prediction, nil
}

func (m *RemoteModel) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	body, err := m.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := m.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, path, resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		slog.Error("model.RemoteModel.post: request failed", "path", path, "error", err)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
