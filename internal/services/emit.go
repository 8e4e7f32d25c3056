package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/notify"
)

const notifyTimeout = 5 * time.Second

// emitter hands committed events to the sink without blocking the caller.
type emitter struct {
	sink   notify.Sink
	logger *zap.SugaredLogger
}

func newEmitter(sink notify.Sink, logger *zap.SugaredLogger) emitter {
	if sink == nil {
		sink = notify.Discard
	}
	return emitter{sink: sink, logger: logger}
}

func (e emitter) emit(events ...notify.Event) {
	if len(events) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		for _, ev := range events {
			if err := e.sink.Notify(ctx, ev); err != nil {
				NotifyFailures.Inc()
				e.logger.Warnw("Notification failed",
					"type", ev.Type,
					"report_seq", ev.ReportSeq,
					"error", err,
				)
			}
		}
	}()
}

// withTimeout bounds a persistence call. A zero timeout keeps ctx as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
