package queue

import (
	"context"
	"fmt"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/models"
)

// Trigger labels for enqueued tasks.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// Publisher enqueues one task.
type Publisher interface {
	Publish(ctx context.Context, queue string, task any) (string, error)
}

// EnqueueRecorder observes published tasks.
type EnqueueRecorder interface {
	RecordEnqueued(trigger string, n int)
}

// SiteIDLister lists every registered site.
type SiteIDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Producer publishes audit tasks to a single queue.
type Producer struct {
	pub      Publisher
	queue    string
	recorder EnqueueRecorder
	logger   infralogger.Logger
}

func NewProducer(pub Publisher, queue string, recorder EnqueueRecorder, log infralogger.Logger) *Producer {
	return &Producer{pub: pub, queue: queue, recorder: recorder, logger: log}
}

// Enqueue publishes task and returns the message ID.
func (p *Producer) Enqueue(ctx context.Context, task models.AuditTask) (string, error) {
	if task.Ref() == "" {
		return "", models.ErrMissingSiteID
	}
	id, err := p.pub.Publish(ctx, p.queue, task)
	if err != nil {
		return "", err
	}
	if p.recorder != nil {
		p.recorder.RecordEnqueued(task.Trigger, 1)
	}
	p.logger.Debug("Audit task enqueued",
		infralogger.String("queue", p.queue),
		infralogger.String("message_id", id),
		infralogger.String("site_id", task.Ref()),
		infralogger.String("trigger", task.Trigger),
	)
	return id, nil
}

// EnqueueAll publishes one task per registered site. It stops at the
// first publish failure and reports how many were enqueued.
func (p *Producer) EnqueueAll(ctx context.Context, sites SiteIDLister, trigger string) (int, error) {
	ids, err := sites.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sites: %w", err)
	}
	for i, id := range ids {
		if _, err = p.Enqueue(ctx, models.AuditTask{SiteID: id, Trigger: trigger}); err != nil {
			return i, fmt.Errorf("enqueue site %s: %w", id, err)
		}
	}
	p.logger.Info("Enqueued audits for all sites",
		infralogger.String("queue", p.queue),
		infralogger.Int("count", len(ids)),
		infralogger.String("trigger", trigger),
	)
	return len(ids), nil
}
