package worker

import (
	"context"
	"errors"
	"fmt"

	infralogger "github.com/jonesrussell/site-auditor/infrastructure/logger"
	"github.com/jonesrussell/site-auditor/internal/models"
	"github.com/jonesrussell/site-auditor/internal/queue"
	"github.com/jonesrussell/site-auditor/internal/telemetry"
)

// Handler adapts the orchestrator to the broker. A rate-limited task
// becomes a pause signal; the message itself is still discarded.
func (o *Orchestrator) Handler() queue.Handler {
	return func(ctx context.Context, d queue.Delivery) queue.Outcome {
		task, err := models.ParseAuditTask(d.Payload)
		if err != nil {
			o.deps.Logger.Warn("Discarding malformed task",
				infralogger.String("message_id", d.ID),
				infralogger.Error(err),
			)
			o.deps.Telemetry.RecordAudit(ctx, telemetry.OutcomeMalformed, 0)
			return queue.Outcome{Err: fmt.Errorf("%w: %w", ErrMalformedTask, err)}
		}
		if d.Redelivered {
			o.deps.Logger.Info("Processing redelivered task",
				infralogger.String("message_id", d.ID),
				infralogger.String("site_id", task.Ref()),
			)
		}

		err = o.Run(ctx, task, d.ID)
		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			return queue.Outcome{Err: err, PauseFor: rateLimited.RetryAfter}
		}
		return queue.Outcome{Err: err}
	}
}
