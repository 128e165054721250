package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliver_Signed(t *testing.T) {
	var (
		gotSig  string
		gotUA   string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := &Event{Type: EventHarvestCompleted, JobID: "job-1", Timestamp: 1700000000, Data: map[string]int{"cookies": 2}}
	require.NoError(t, Deliver(context.Background(), srv.URL, "s3cret", ev))

	assert.Equal(t, "Clearance-Webhook/1.0", gotUA)
	assert.Equal(t, Sign("s3cret", gotBody), gotSig)

	var decoded Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, EventHarvestCompleted, decoded.Type)
}

func TestDeliver_UnsignedAndErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Deliver(context.Background(), srv.URL, "", &Event{Type: EventHarvestFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestDeliverAsync_Retries(t *testing.T) {
	saved := retryDelays
	retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = saved }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	done := make(chan error, 1)
	DeliverAsync(srv.URL, "", &Event{Type: EventHarvestCompleted}, func(err error) { done <- err })

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestDeliverAsync_Exhausted(t *testing.T) {
	saved := retryDelays
	retryDelays = []time.Duration{0, time.Millisecond}
	defer func() { retryDelays = saved }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	done := make(chan error, 1)
	DeliverAsync(srv.URL, "", &Event{Type: EventHarvestFailed}, func(err error) { done <- err })

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}
}
