package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/models"
)

func TestDeliver_SignsBody(t *testing.T) {
	var (
		gotSig  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL, "topsecret", nil)
	sum := &models.Summary{RunID: "run-1", Succeeded: 3}
	require.NoError(t, n.Deliver(context.Background(), RunCompleted, sum))

	assert.Equal(t, "sha256="+Sign("topsecret", gotBody), gotSig)
	var ev Event
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, RunCompleted, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, 3, ev.Data.Succeeded)
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "", nil)
	n.client.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	require.NoError(t, n.Deliver(context.Background(), RunAborted, &models.Summary{RunID: "r"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeliver_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New(srv.URL, "", nil)
	err := n.Deliver(context.Background(), RunCompleted, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEventType(t *testing.T) {
	assert.Equal(t, RunCompleted, EventType(&models.Summary{}, nil))
	assert.Equal(t, RunAborted, EventType(&models.Summary{Aborted: true}, errors.New("x")))
	assert.Equal(t, RunInterrupted, EventType(&models.Summary{}, context.Canceled))
}
