package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/logging"
	"github.com/ecucondorSA/autorenta-payments/internal/metrics"
)

const maxErrorBody = 4 << 10

// apiClient is the transport shared by the concrete gateways: bearer auth,
// JSON in/out, bounded retries for transient failures only. Permanent failures
// (declines, validation) surface immediately with the vendor detail intact.
type apiClient struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(name, baseURL, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		name:    name,
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *apiClient) doJSON(ctx context.Context, method, path, op string, headers map[string]string, reqBody, out any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("doJSON: marshal: %w", err)
		}
	}

	attempt := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("doJSON: build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		timer := prometheus.NewTimer(metrics.ProviderCallDuration.WithLabelValues(c.name, op))
		resp, err := c.httpClient.Do(req)
		timer.ObserveDuration()
		if err != nil {
			return &domain.ProviderError{Provider: c.name, Transient: true, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				// A malformed success body is not retryable: the call may
				// already have had its effect provider-side.
				return backoff.Permanent(&domain.ProviderError{
					Provider:   c.name,
					StatusCode: resp.StatusCode,
					Err:        fmt.Errorf("decode response: %w", err),
				})
			}
			return nil
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := &domain.ProviderError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			DetailCode: detailFromBody(respBody),
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		if perr.Transient {
			return perr
		}
		return backoff.Permanent(perr)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	start := time.Now()
	err := backoff.Retry(attempt, policy)

	log := logging.FromContext(ctx)
	if err != nil {
		log.Warn("provider call failed",
			"provider", c.name,
			"op", op,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return err
	}

	log.Info("provider call completed",
		"provider", c.name,
		"op", op,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func detailFromBody(body []byte) string {
	var e struct {
		Status       string `json:"status"`
		StatusDetail string `json:"status_detail"`
		Message      string `json:"message"`
		Name         string `json:"name"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return string(body)
	}
	switch {
	case e.StatusDetail != "":
		return e.StatusDetail
	case e.Message != "":
		return e.Message
	case e.Name != "":
		return e.Name
	default:
		return string(body)
	}
}
