package unreal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return NewClient(host, p, timeout)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetProperty(t *testing.T) {
	var got propertyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/remote/object/property", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Intensity": 912.5, "Cloudy": false}`))
	}))
	defer srv.Close()

	props, err := clientFor(t, srv, time.Second).GetProperty(context.Background(), "/Game/Map.Sun", "Intensity")
	require.NoError(t, err)
	assert.Equal(t, 912.5, props["Intensity"])
	assert.Equal(t, false, props["Cloudy"])
	assert.Equal(t, propertyRequest{ObjectPath: "/Game/Map.Sun", Access: "READ_ACCESS", PropertyName: "Intensity"}, got)
}

func TestGetPropertyFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "no such object", http.StatusNotFound) }},
		{"body", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("not json")) }},
		{"timeout", func(w http.ResponseWriter, r *http.Request) { time.Sleep(200 * time.Millisecond) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := clientFor(t, srv, 50*time.Millisecond).GetProperty(context.Background(), "/Game/Map.Sun", "")
			var fetchErr *TelemetryFetchError
			require.True(t, errors.As(err, &fetchErr), "got %v", err)
			assert.Equal(t, "/Game/Map.Sun", fetchErr.ObjectPath)
		})
	}
}

func TestPollerDeliversSnapshots(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"Intensity": 1}`))
	}))
	defer srv.Close()

	snapshots := make(chan map[string]any, 16)
	p := NewPoller(clientFor(t, srv, time.Second), "/Game/Map.Sun", 5*time.Millisecond, func(props map[string]any) {
		select {
		case snapshots <- props:
		default:
		}
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	first := <-snapshots
	second := <-snapshots
	assert.Equal(t, map[string]any{"Intensity": 1.0}, first)
	assert.Empty(t, second, "failed poll yields an empty snapshot")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerWithoutPathReturns(t *testing.T) {
	p := NewPoller(NewClient("localhost", 30010, 0), "", 0, func(map[string]any) {
		t.Error("sink called")
	}, quietLogger())
	p.Run(context.Background())
}
