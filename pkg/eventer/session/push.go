package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
)

var alternateKinds = [2]kinds.Kind{kinds.BaseEventsTable, kinds.BaseEventsList}

// push is the session's background task: poll, then wait one interval or
// until the session is cancelled or its connection closes.
func (r *Registry) push(ctx context.Context, s *Session, poller Poller) {
	defer r.wg.Done()
	defer close(s.done)
	defer s.subs.reset()

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for cycle := 0; ; cycle++ {
		r.pollCycle(ctx, s, poller, cycle)

		timer.Reset(r.interval)
		select {
		case <-ctx.Done():
			return
		case <-s.conn.Done():
			r.deregisterSession(s.token, s.conn.ID())
			return
		case <-timer.C:
		}
	}
}

func (r *Registry) pollCycle(ctx context.Context, s *Session, poller Poller, cycle int) {
	var targets []kinds.Kind
	switch r.mode {
	case PushAlternate:
		targets = alternateKinds[cycle%2 : cycle%2+1]
	default:
		targets = s.subs.Kinds()
	}

	r.metrics.RecordCycle(ctx)

	for _, kind := range targets {
		if ctx.Err() != nil {
			return
		}
		if err := poller.Poll(ctx, s, kind, false); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.metrics.RecordPushError(ctx, kind)
			r.logger.Debug("Push failed",
				zap.String("principal", s.principal),
				zap.String("conn_id", s.conn.ID()),
				zap.Stringer("kind", kind),
				zap.Error(err),
			)
		}
	}
}
