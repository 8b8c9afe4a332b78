package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/monitoring"
)

// MaxBodyBytes caps how much of a producer response is read.
const MaxBodyBytes = 64 << 20

// NewClient returns a StandardClient with a transport timeout.
func NewClient(timeout time.Duration) *StandardClient {
	return NewStandardClient(&http.Client{Timeout: timeout})
}

// Fetch sends req with ctx and returns the body of a 2xx response. Transport
// failures and any other status come back as NetworkError; the outcome is
// counted against service.
func Fetch(ctx context.Context, c HTTPClient, service string, req *http.Request) ([]byte, error) {
	op := fmt.Sprintf("%s %s", service, req.Method)
	resp, err := c.Do(req.WithContext(ctx))
	if err != nil {
		monitoring.ProducerRequests.WithLabelValues(service, "transport_error").Inc()
		if ctx.Err() != nil {
			return nil, errors.New(errors.KindCancelled, op, err)
		}
		return nil, errors.New(errors.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		monitoring.ProducerRequests.WithLabelValues(service, "read_error").Inc()
		return nil, errors.New(errors.KindNetwork, op, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		monitoring.ProducerRequests.WithLabelValues(service, "http_"+fmt.Sprint(resp.StatusCode)).Inc()
		return nil, errors.Newf(errors.KindNetwork, op, "unexpected status %d: %s",
			resp.StatusCode, snippet(body)).With("status", resp.StatusCode)
	}
	monitoring.ProducerRequests.WithLabelValues(service, "ok").Inc()
	return body, nil
}

// snippet trims a response body for an error message.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// StatusOf returns the HTTP status carried by an error from Fetch, or 0.
func StatusOf(err error) int {
	var e *errors.Error
	if !errors.As(err, &e) {
		return 0
	}
	status, _ := e.Context["status"].(int)
	return status
}
