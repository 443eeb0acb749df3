package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/domain"
	"marketdata/internal/gapdetector"
)

type fakeQueue struct {
	enqueued []domain.BackfillJob
	reaped   int
}

func (f *fakeQueue) Enqueue(ctx context.Context, job domain.BackfillJob) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}
func (f *fakeQueue) LeaseNext(ctx context.Context, workerID string, leaseTTL time.Duration) (*domain.BackfillJob, error) {
	return nil, nil
}
func (f *fakeQueue) Complete(ctx context.Context, jobID string) error          { return nil }
func (f *fakeQueue) Fail(ctx context.Context, jobID string, cause error) error { return nil }
func (f *fakeQueue) Reap(ctx context.Context) (int, error)                    { f.reaped++; return 0, nil }

func TestPriorityForTag_FullGapOutranksOthers(t *testing.T) {
	assert.Greater(t, priorityForTag(gapdetector.FullGap), priorityForTag(gapdetector.MidGap))
	assert.Equal(t, priorityForTag(gapdetector.StartGap), priorityForTag(gapdetector.EndGap))
}

func TestEngine_EnqueueGap(t *testing.T) {
	q := &fakeQueue{}
	e := &Engine{q: q}

	gap := gapdetector.Gap{Symbol: "EURUSD", Timeframe: domain.M1, From: time.Now(), To: time.Now().Add(time.Minute), Tag: gapdetector.FullGap}
	e.enqueueGap(context.Background(), gap)

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, "EURUSD", q.enqueued[0].Symbol)
	assert.Equal(t, priorityForTag(gapdetector.FullGap), q.enqueued[0].Priority)
}

func TestEngine_Reap(t *testing.T) {
	q := &fakeQueue{}
	e := &Engine{q: q}
	e.reap(context.Background())
	assert.Equal(t, 1, q.reaped)
}
