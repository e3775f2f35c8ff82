package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newGet(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestStandardClient_Wraps(t *testing.T) {
	customClient := &http.Client{}
	client := NewStandardClient(customClient)

	if client.Client != customClient {
		t.Error("expected custom client to be wrapped")
	}
	if NewStandardClient(nil).Client != http.DefaultClient {
		t.Error("expected nil to fall back to http.DefaultClient")
	}
}

func TestNewTimeoutClient(t *testing.T) {
	client := NewTimeoutClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
}

func TestStandardClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"aircraft":[]}`)
	}))
	defer server.Close()

	resp, err := NewStandardClient(server.Client()).Do(newGet(t, server.URL))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"aircraft":[]}` {
		t.Errorf("got body %q", string(body))
	}
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "first").AddResponse(http.StatusAccepted, "second")

	resp1, _ := mock.Do(newGet(t, "http://example.com/1"))
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	if string(body1) != "first" {
		t.Errorf("first response: got %q, want 'first'", string(body1))
	}

	resp2, _ := mock.Do(newGet(t, "http://example.com/2"))
	if resp2.StatusCode != http.StatusAccepted {
		t.Errorf("second response: got status %d", resp2.StatusCode)
	}
	resp2.Body.Close()

	// queue exhausted
	resp3, _ := mock.Do(newGet(t, "http://example.com/3"))
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("default response: got status %d", resp3.StatusCode)
	}
	resp3.Body.Close()

	if mock.RequestCount() != 3 {
		t.Errorf("got %d requests, want 3", mock.RequestCount())
	}
	if got := mock.GetRequest(1).URL.Path; got != "/2" {
		t.Errorf("second request path = %q", got)
	}
	if mock.GetRequest(5) != nil {
		t.Error("out of range request should be nil")
	}
}

func TestMockHTTPClient_AddErrorResponse(t *testing.T) {
	mock := NewMockHTTPClient()
	expectedErr := errors.New("connection refused")
	mock.AddErrorResponse(expectedErr)

	_, err := mock.Do(newGet(t, "http://example.com/api"))
	if err != expectedErr {
		t.Errorf("got error %v, want %v", err, expectedErr)
	}
}

func TestMockHTTPClient_DefaultError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DefaultError = errors.New("network down")
	mock.AddResponse(http.StatusOK, "ignored")

	if _, err := mock.Do(newGet(t, "http://example.com")); err == nil {
		t.Error("expected default error")
	}
}

func TestMockHTTPClient_DoFuncHonoursContext(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)

	_, err := mock.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}
