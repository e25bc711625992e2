package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobsYAML = `
jobs:
  - id: nightly-events
    name: nightly events sync
    tenant_id: tenant-1
    source_type: synthetic
    cron_expression: "0 2 * * *"
    connection_params:
      row_count: "100"
    extraction:
      target_structures: ["events"]
      incremental: true
      tracking_field: id
  - name: manual backfill
    source_type: file
    max_retry_count: 5
`

func TestLoadJobsFromBytes(t *testing.T) {
	jobs, err := LoadJobsFromBytes([]byte(jobsYAML))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	first := jobs[0]
	assert.Equal(t, "nightly-events", first.ID)
	assert.Equal(t, "synthetic", first.SourceType)
	assert.Equal(t, "0 2 * * *", first.CronExpression)
	assert.Equal(t, "100", first.ConnectionParams["row_count"])
	assert.Equal(t, []string{"events"}, first.Extraction.TargetStructures)
	assert.True(t, first.Extraction.Incremental)
	assert.Equal(t, "id", first.Extraction.TrackingField)
	assert.Equal(t, 3, first.MaxRetryCount, "unset retry budget defaults to 3")

	second := jobs[1]
	assert.Empty(t, second.ID)
	assert.Equal(t, 5, second.MaxRetryCount)
}

func TestLoadJobsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobsYAML), 0o644))

	jobs, err := LoadJobsFromFile(path)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = LoadJobsFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadJobsMalformed(t *testing.T) {
	_, err := LoadJobsFromBytes([]byte("jobs: {not: a list}"))
	require.Error(t, err)
}

func TestRobfigEngineRejectsInvalidExpression(t *testing.T) {
	e := NewRobfigEngine(CronConfig{})
	err := e.AddOrUpdate("j1", "not a cron", func() {})
	require.Error(t, err)
}

func TestRobfigEngineReplaceAndRemove(t *testing.T) {
	e := NewRobfigEngine(CronConfig{})
	require.NoError(t, e.AddOrUpdate("j1", "@hourly", func() {}))
	require.NoError(t, e.AddOrUpdate("j1", "@daily", func() {}))
	assert.Len(t, e.entries, 1)

	e.RemoveIfExists("j1")
	e.RemoveIfExists("j1")
	assert.Empty(t, e.entries)
}

func TestRobfigEngineEnqueueRunsHandlers(t *testing.T) {
	e := NewRobfigEngine(CronConfig{Workers: 2})
	e.Start()

	done := make(chan struct{})
	e.Enqueue(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueued handler did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))

	// Post-stop enqueues are dropped, not deadlocked.
	e.Enqueue(func() { t.Error("handler ran after stop") })
}

func TestRobfigEngineStopWithBlockedEnqueue(t *testing.T) {
	// Workers never start, so one enqueue fills the queue and the next
	// blocks. Stop must release the blocked sender without it panicking
	// on a closed channel.
	e := NewRobfigEngine(CronConfig{Workers: 1, QueueDepth: 1})
	e.Enqueue(func() {})

	released := make(chan struct{})
	go func() {
		e.Enqueue(func() {})
		close(released)
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked enqueue did not release on stop")
	}
}
