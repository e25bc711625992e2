package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdata/vortex/pkg/errors"
)

func sampleEvent() Event {
	return Event{
		JobID:     "j1",
		JobName:   "nightly sync",
		TenantID:  "tenant-1",
		Status:    "completed",
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Message:   "extracted 10 rows from 1 structures",
	}
}

func TestWebhookPayloadFieldNames(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		body, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier([]string{server.URL}, nil)
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	for _, field := range []string{"jobId", "jobName", "tenantId", "status", "timestamp", "message"} {
		assert.Contains(t, decoded, field)
	}
	assert.Equal(t, "j1", decoded["jobId"])
	assert.Equal(t, "completed", decoded["status"])
}

func TestWebhookAllURLsMustSucceed(t *testing.T) {
	var okHits, badHits atomic.Int32
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okHits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer okServer.Close()
	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badServer.Close()

	n := NewWebhookNotifier([]string{okServer.URL, badServer.URL}, nil)
	err := n.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, int32(1), okHits.Load())
	assert.Equal(t, int32(1), badHits.Load())
}

func TestWebhookUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	n := NewWebhookNotifier([]string{server.URL}, nil)
	err := n.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestWebhookNoURLsIsNoOp(t *testing.T) {
	n := NewWebhookNotifier(nil, nil)
	assert.NoError(t, n.Notify(context.Background(), sampleEvent()))
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.calls++
	return r.err
}

func TestMultiAttemptsAllChannels(t *testing.T) {
	failing := &recordingNotifier{err: errors.New(errors.ErrorTypeConnection, "down")}
	healthy := &recordingNotifier{}

	err := NewMulti(failing, healthy).Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, healthy.calls, "later channels still run after a failure")

	assert.NoError(t, NewMulti(healthy).Notify(context.Background(), sampleEvent()))
}

type recordingSender struct {
	recipients []string
	subject    string
	body       string
}

func (r *recordingSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	r.recipients = recipients
	r.subject = subject
	r.body = body
	return nil
}

func TestEmailNotifierRendersSubject(t *testing.T) {
	sender := &recordingSender{}
	n := NewEmailNotifier([]string{"ops@example.com"}, sender)

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, []string{"ops@example.com"}, sender.recipients)
	assert.Equal(t, "[vortex] job nightly sync: completed", sender.subject)
	assert.Contains(t, sender.body, "extracted 10 rows")
}
