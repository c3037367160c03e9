package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/models"
	"github.com/jonesrussell/site-auditor/internal/queue"
)

type staticSites []string

func (s staticSites) ListIDs(context.Context) ([]string, error) { return s, nil }

type failingSites struct{}

func (failingSites) ListIDs(context.Context) ([]string, error) { return nil, errors.New("db down") }

type enqueueCounts map[string]int

func (c enqueueCounts) RecordEnqueued(trigger string, n int) { c[trigger] += n }

func TestProducer_Enqueue(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	b := newBroker(t, mr, "p1", newRecorder())
	counts := enqueueCounts{}
	p := queue.NewProducer(b, testQueue, counts, infralogger.NewNop())

	id, err := p.Enqueue(context.Background(), models.AuditTask{SiteID: "site-1", Trigger: queue.TriggerAPI})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, counts[queue.TriggerAPI])

	depth, err := b.Depth(context.Background(), testQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	_, err = p.Enqueue(context.Background(), models.AuditTask{Trigger: queue.TriggerAPI})
	require.ErrorIs(t, err, models.ErrMissingSiteID)
}

func TestProducer_EnqueueAll(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	b := newBroker(t, mr, "p1", newRecorder())
	counts := enqueueCounts{}
	p := queue.NewProducer(b, testQueue, counts, infralogger.NewNop())

	n, err := p.EnqueueAll(context.Background(), staticSites{"a", "b", "c"}, queue.TriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, counts[queue.TriggerSchedule])

	depth, err := b.Depth(context.Background(), testQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)

	_, err = p.EnqueueAll(context.Background(), failingSites{}, queue.TriggerSchedule)
	require.ErrorContains(t, err, "db down")
}
