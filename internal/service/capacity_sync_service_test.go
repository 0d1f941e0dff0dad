package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-service/internal/client"
	"github.com/noah-isme/enrollment-service/internal/models"
	"github.com/noah-isme/enrollment-service/pkg/config"
	"github.com/noah-isme/enrollment-service/pkg/jobs"
)

type capacityWrite struct {
	course models.CourseID
	count  int
}

type fakeCapacityWriter struct {
	mu       sync.Mutex
	writes   []capacityWrite
	outcomes []client.WriteOutcome
	gate     chan struct{}
}

func (f *fakeCapacityWriter) SetEnrolled(_ context.Context, id models.CourseID, count int) client.WriteResult {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, capacityWrite{course: id, count: count})
	outcome := client.WriteOK
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	if outcome == client.WriteOK {
		return client.WriteResult{Outcome: outcome}
	}
	return client.WriteResult{Outcome: outcome, Err: errors.New(outcome.String())}
}

func (f *fakeCapacityWriter) recorded() []capacityWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capacityWrite(nil), f.writes...)
}

func syncConfig() config.CapacitySyncConfig {
	return config.CapacitySyncConfig{Workers: 2, QueueSize: 8, MaxRetries: 2, RetryDelay: time.Millisecond}
}

func TestCapacitySyncWritesTarget(t *testing.T) {
	writer := &fakeCapacityWriter{}
	svc := NewCapacitySyncService(writer, syncConfig(), true, nil, nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Submit("CS101", 1, "enroll"))
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Equal(t, []capacityWrite{{course: "CS101", count: 1}}, writer.recorded())
}

func TestCapacitySyncStrictRetriesUnavailable(t *testing.T) {
	writer := &fakeCapacityWriter{outcomes: []client.WriteOutcome{client.WriteUnavailable, client.WriteUnavailable}}
	svc := NewCapacitySyncService(writer, syncConfig(), true, nil, nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Submit("CS101", 4, "enroll"))
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Len(t, writer.recorded(), 3)
}

func TestCapacitySyncParityDoesNotRetry(t *testing.T) {
	writer := &fakeCapacityWriter{outcomes: []client.WriteOutcome{client.WriteUnavailable}}
	svc := NewCapacitySyncService(writer, syncConfig(), false, nil, nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Submit("CS101", 4, "enroll"))
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Len(t, writer.recorded(), 1)
}

func TestCapacitySyncRejectedIsNotRetried(t *testing.T) {
	writer := &fakeCapacityWriter{outcomes: []client.WriteOutcome{client.WriteRejected}}
	svc := NewCapacitySyncService(writer, syncConfig(), true, nil, nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Submit("CS101", 99, "enroll"))
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Len(t, writer.recorded(), 1)
}

func TestCapacitySyncStrictCoalescesStaleJobs(t *testing.T) {
	writer := &fakeCapacityWriter{gate: make(chan struct{})}
	cfg := syncConfig()
	cfg.Workers = 1
	svc := NewCapacitySyncService(writer, cfg, true, nil, nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Submit("CS101", 1, "enroll"))
	// the first job is now blocked inside the writer; queue two more behind it
	require.Eventually(t, func() bool { return svc.Depth() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, svc.Submit("CS101", 2, "enroll"))
	require.NoError(t, svc.Submit("CS101", 3, "enroll"))
	close(writer.gate)
	require.NoError(t, svc.Shutdown(context.Background()))

	writes := writer.recorded()
	require.Len(t, writes, 2, "the middle job is superseded")
	assert.Equal(t, 1, writes[0].count)
	assert.Equal(t, 3, writes[1].count)
}

func TestCapacitySyncParityKeepsEveryJobInOrder(t *testing.T) {
	writer := &fakeCapacityWriter{}
	cfg := syncConfig()
	cfg.Workers = 3
	svc := NewCapacitySyncService(writer, cfg, false, nil, nil)
	svc.Start(context.Background())

	for i := 1; i <= 5; i++ {
		require.NoError(t, svc.Submit("CS101", i, "enroll"))
	}
	require.NoError(t, svc.Shutdown(context.Background()))

	writes := writer.recorded()
	require.Len(t, writes, 5)
	for i, w := range writes {
		assert.Equal(t, i+1, w.count)
	}
}

func TestCapacitySyncQueueFull(t *testing.T) {
	writer := &fakeCapacityWriter{gate: make(chan struct{})}
	svc := NewCapacitySyncService(writer, config.CapacitySyncConfig{Workers: 1, QueueSize: 1}, true, nil, nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Submit("CS101", 1, "enroll"))
	require.Eventually(t, func() bool { return svc.Depth() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, svc.Submit("CS101", 2, "enroll"))
	err := svc.Submit("CS101", 3, "enroll")
	assert.ErrorIs(t, err, jobs.ErrQueueFull)

	close(writer.gate)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestCapacitySyncClampsNegativeTarget(t *testing.T) {
	writer := &fakeCapacityWriter{}
	svc := NewCapacitySyncService(writer, syncConfig(), false, nil, nil)
	svc.Start(context.Background())

	require.NoError(t, svc.Submit("CS101", -1, "drop"))
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Equal(t, 0, writer.recorded()[0].count)
}

func TestCapacitySyncOnlyRetriesRetryableWrites(t *testing.T) {
	cases := []struct {
		outcome client.WriteOutcome
		writes  int
	}{
		{client.WriteUnavailable, 3},
		{client.WriteNotFound, 1},
		{client.WriteRejected, 1},
	}
	for _, tc := range cases {
		t.Run(tc.outcome.String(), func(t *testing.T) {
			writer := &fakeCapacityWriter{outcomes: []client.WriteOutcome{tc.outcome, tc.outcome, tc.outcome}}
			svc := NewCapacitySyncService(writer, syncConfig(), true, nil, nil)
			svc.Start(context.Background())

			require.NoError(t, svc.Submit("CS101", 2, "enroll"))
			require.NoError(t, svc.Shutdown(context.Background()))

			assert.Len(t, writer.recorded(), tc.writes)
		})
	}
}
