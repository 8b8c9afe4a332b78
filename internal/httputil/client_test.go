package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardClient_UserAgent(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewStandardClient(nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, got, 2)
	assert.Contains(t, got[0], "qris/")
	assert.Equal(t, "custom", got[1])
}

func TestNewClient_Timeout(t *testing.T) {
	c := NewClient(0)
	assert.NotSame(t, http.DefaultClient, c.Client)
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	boom := errors.New("connection reset")
	m := NewMockHTTPClient().
		AddResponse(http.StatusCreated, "first").
		AddErrorResponse(boom).
		AddResponse(http.StatusNotFound, "third")

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/a", nil)
	resp, err := m.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "first", string(body))

	_, err = m.Do(req)
	assert.ErrorIs(t, err, boom)

	resp, err = m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// exhausted queue answers 200
	resp, err = m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, m.RequestCount())
}

func TestMockHTTPClient_DoFuncAndDefaultError(t *testing.T) {
	m := NewMockHTTPClient()
	m.DoFunc = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot, Body: http.NoBody}, nil
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	m = NewMockHTTPClient()
	m.DefaultError = errors.New("offline")
	_, err = m.Do(req)
	assert.EqualError(t, err, "offline")
}

func TestMockHTTPClient_CancelledContext(t *testing.T) {
	m := NewMockHTTPClient().AddResponse(http.StatusOK, "never")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)
	_, err := m.Do(req)
	assert.ErrorIs(t, err, context.Canceled)
}
