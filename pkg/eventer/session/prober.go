package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
)

const DefaultProbeSchedule = "@every 1m"

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether NewProber would accept schedule.
func ValidateSchedule(schedule string) error {
	_, err := scheduleParser.Parse(schedule)
	return err
}

// Prober periodically pings every session and marks it as awaiting a pong.
// The pong handler ends the probe and revalidates the session's credential.
type Prober struct {
	registry *Registry
	cron     *cron.Cron
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProber schedules probes on registry. The schedule accepts standard
// five-field cron specs with optional seconds and descriptors such as
// "@every 30s".
func NewProber(registry *Registry, schedule string, logger *zap.Logger) (*Prober, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Prober{
		registry: registry,
		timeout:  registry.interval,
		logger:   logger,
	}

	p.cron = cron.New(cron.WithLogger(NewZapCronLogger(logger)), cron.WithParser(scheduleParser))

	if _, err := p.cron.AddFunc(schedule, func() { p.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}

	return p, nil
}

func (p *Prober) Start() {
	p.cron.Start()
}

// Stop halts scheduling and returns a context that is done once any
// running probe has finished.
func (p *Prober) Stop() context.Context {
	return p.cron.Stop()
}

// RunOnce pings every live session concurrently and returns once each
// ping was written or timed out. A stalled client only delays itself.
func (p *Prober) RunOnce(ctx context.Context) {
	poller := p.registry.currentPoller()
	if poller == nil {
		return
	}

	var wg sync.WaitGroup
	for _, s := range p.registry.Sessions() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.probe(ctx, poller, s)
		}()
	}
	wg.Wait()
}

func (p *Prober) probe(ctx context.Context, poller Poller, s *Session) {
	s.BeginProbe()

	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := poller.Poll(pingCtx, s, kinds.Ping, true); err != nil {
		p.registry.metrics.RecordProbe(ctx, "send_failed")
		p.logger.Debug("Liveness ping failed", zap.String("conn_id", s.conn.ID()), zap.Error(err))
		return
	}
	p.registry.metrics.RecordProbe(ctx, "sent")
}
