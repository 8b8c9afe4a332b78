package httputil

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverscapes/qris/internal/errors"
	"github.com/riverscapes/qris/internal/monitoring"
)

func TestFetch(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		err      error
		wantKind errors.Kind
		outcome  string
	}{
		{name: "ok", status: http.StatusOK, body: "site_no\n", outcome: "ok"},
		{name: "not found", status: http.StatusNotFound, body: "No sites found", wantKind: errors.KindNetwork, outcome: "http_404"},
		{name: "transport", err: errors.Newf(errors.KindGeneric, "dial", "connection refused"), wantKind: errors.KindNetwork, outcome: "transport_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockHTTPClient()
			if tt.err != nil {
				mock.AddErrorResponse(tt.err)
			} else {
				mock.AddResponse(tt.status, tt.body)
			}
			counter := monitoring.ProducerRequests.WithLabelValues("test-"+tt.name, tt.outcome)
			before := testutil.ToFloat64(counter)

			req, err := http.NewRequest(http.MethodGet, "http://example.com/site", nil)
			require.NoError(t, err)
			body, err := Fetch(context.Background(), mock, "test-"+tt.name, req)

			if tt.wantKind != "" {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, tt.wantKind), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(body))
			}
			assert.Equal(t, before+1, testutil.ToFloat64(counter))
		})
	}
}

func TestFetch_StatusMessageIsTrimmed(t *testing.T) {
	mock := NewMockHTTPClient().AddResponse(http.StatusBadGateway, strings.Repeat("x", 500))
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := Fetch(context.Background(), mock, "trim", req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
	assert.Less(t, len(err.Error()), 300)
}

func TestFetch_Cancelled(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, req.Context().Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := Fetch(ctx, mock, "cancel", req)
	assert.True(t, errors.IsKind(err, errors.KindCancelled), "got %v", err)
}
