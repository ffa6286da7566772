package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shenoy37/voicenotes/internal/client"
	"github.com/Shenoy37/voicenotes/internal/events"
	"github.com/Shenoy37/voicenotes/internal/models"
)

func writeEvent(w http.ResponseWriter, ev events.Event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.(http.Flusher).Flush()
}

func fastOptions(baseURL string) client.Options {
	return client.Options{
		BaseURL:           baseURL,
		SessionToken:      "tok",
		ConnectTimeout:    time.Second,
		BackoffBase:       time.Millisecond,
		MaxStreamAttempts: 3,
		PollInterval:      10 * time.Millisecond,
	}
}

func TestWatchStreamsToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/jobs/j1/events", r.URL.Path)
		cookie, err := r.Cookie("session_token")
		require.NoError(t, err)
		require.Equal(t, "tok", cookie.Value)

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, events.Connected("c1"))
		writeEvent(w, events.JobProgress("j1", models.JobTranscribing, 40))
		writeEvent(w, events.JobCompleted("j1", json.RawMessage(`{"text":"done"}`)))
	}))
	defer srv.Close()

	w := client.New(fastOptions(srv.URL))
	var got []events.Event
	final, err := w.Watch(context.Background(), "j1", func(ev events.Event) {
		got = append(got, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, events.TypeJobCompleted, final.Type)
	assert.Equal(t, client.StateDone, w.State())

	require.Len(t, got, 3)
	assert.Equal(t, events.TypeConnected, got[0].Type)
	assert.Equal(t, events.TypeJobProgress, got[1].Type)
	assert.Equal(t, events.TypeJobCompleted, got[2].Type)
}

func TestWatchReconnectsAfterDroppedStream(t *testing.T) {
	var connections int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&connections, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, events.Connected(fmt.Sprintf("c%d", n)))
		if n == 1 {
			// Drop the first stream before the job finishes.
			writeEvent(w, events.JobProgress("j1", models.JobProcessing, 10))
			return
		}
		writeEvent(w, events.JobCompleted("j1", json.RawMessage(`{"text":"second time lucky"}`)))
	}))
	defer srv.Close()

	w := client.New(fastOptions(srv.URL))
	var terminals int
	final, err := w.Watch(context.Background(), "j1", func(ev events.Event) {
		if ev.Terminal() {
			terminals++
		}
	})
	require.NoError(t, err)
	assert.Equal(t, events.TypeJobCompleted, final.Type)
	assert.Equal(t, 1, terminals, "terminal event must surface exactly once")
	assert.EqualValues(t, 2, atomic.LoadInt32(&connections))
}

func TestWatchFallsBackToPolling(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs/j1/events", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stream broken", http.StatusBadGateway)
	})
	mux.HandleFunc("/api/jobs/j1", func(w http.ResponseWriter, r *http.Request) {
		var snap models.JobSnapshot
		if atomic.AddInt32(&polls, 1) < 3 {
			snap = models.JobSnapshot{JobID: "j1", Status: models.JobProcessing, Progress: 30}
		} else {
			snap = models.JobSnapshot{JobID: "j1", Status: models.JobCompleted, Progress: 100, Result: json.RawMessage(`{"text":"polled"}`)}
		}
		json.NewEncoder(w).Encode(snap)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := client.New(fastOptions(srv.URL))
	var sawPollingState bool
	var terminals int
	final, err := w.Watch(context.Background(), "j1", func(ev events.Event) {
		if w.State() == client.StatePolling {
			sawPollingState = true
		}
		if ev.Terminal() {
			terminals++
		}
	})
	require.NoError(t, err)
	assert.Equal(t, events.TypeJobCompleted, final.Type)
	assert.Equal(t, 1, terminals)
	assert.True(t, sawPollingState, "watcher should have degraded to polling")
	assert.Equal(t, client.StateDone, w.State())
}

func TestWatchConnectTimeoutFallsBackImmediately(t *testing.T) {
	var connects int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs/j1/events", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connects, 1)
		// Accept the connection but never produce response headers.
		<-r.Context().Done()
	})
	mux.HandleFunc("/api/jobs/j1", func(w http.ResponseWriter, r *http.Request) {
		snap := models.JobSnapshot{JobID: "j1", Status: models.JobCompleted, Progress: 100, Result: json.RawMessage(`{"text":"polled"}`)}
		json.NewEncoder(w).Encode(snap)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := fastOptions(srv.URL)
	opts.ConnectTimeout = 50 * time.Millisecond
	opts.MaxStreamAttempts = 5

	w := client.New(opts)
	start := time.Now()
	final, err := w.Watch(context.Background(), "j1", nil)
	require.NoError(t, err)
	assert.Equal(t, events.TypeJobCompleted, final.Type)
	assert.EqualValues(t, 1, atomic.LoadInt32(&connects),
		"a silent connect phase should not be retried")
	assert.Less(t, time.Since(start), time.Second,
		"fallback to polling should happen after a single connect window")
}

func TestWatchJobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Job not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	w := client.New(fastOptions(srv.URL))
	_, err := w.Watch(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, client.ErrJobNotFound)
}

func TestWatchContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, events.Connected("c1"))
		<-r.Context().Done() // hold the stream open, never finish the job
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w := client.New(fastOptions(srv.URL))
	_, err := w.Watch(ctx, "j1", nil)
	assert.Error(t, err)
}
