// Package seeder drives synthetic users through the tracker SDK so a running
// gateway and storage consumer can be exercised end to end.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/tracker"
	"github.com/telhawk-systems/trackstack/tracker/device"
	"github.com/telhawk-systems/trackstack/tracker/platform"
	"github.com/telhawk-systems/trackstack/tracker/queue"
	"github.com/telhawk-systems/trackstack/tracker/transport"
)

// Config controls a seeding run.
type Config struct {
	Count      int
	Users      int
	Interval   time.Duration
	Seed       int64
	EventTypes []string
	Queue      queue.Config
}

// Summary reports what a run produced.
type Summary struct {
	Users     int `json:"users" yaml:"users"`
	Tracked   int `json:"tracked" yaml:"tracked"`
	Delivered int `json:"delivered" yaml:"delivered"`
	Rejected  int `json:"rejected" yaml:"rejected"`
	Pending   int `json:"pending" yaml:"pending"`
}

// Runner sends synthetic traffic through one in-memory tracker per user.
type Runner struct {
	cfg    Config
	sender transport.Sender
	logger *slog.Logger
}

func NewRunner(cfg Config, sender transport.Sender, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, sender: sender, logger: logger}
}

// Run tracks Count events spread round-robin over Users trackers, then closes
// every tracker with a final flush. Cancelling ctx stops generation early; the
// trackers are still closed.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if r.cfg.Count < 1 {
		return Summary{}, fmt.Errorf("count must be at least 1, got %d", r.cfg.Count)
	}
	users := r.cfg.Users
	if users < 1 {
		users = 1
	}
	qcfg := r.cfg.Queue
	if qcfg == (queue.Config{}) {
		qcfg = queue.DefaultConfig()
	}

	gen, err := NewGenerator(r.cfg.Seed, r.cfg.EventTypes)
	if err != nil {
		return Summary{}, err
	}

	var delivered, rejected atomic.Int64
	trackers := make([]*tracker.Tracker, 0, users)
	for i := 0; i < users; i++ {
		snapshot := gen.Device()
		t, err := tracker.New(platform.NewMemory(), r.sender,
			tracker.WithQueueConfig(qcfg),
			tracker.WithLogger(r.logger),
			tracker.WithDeviceSource(device.SourceFunc(func(online bool) (*models.Device, error) {
				d := *snapshot
				d.Online = &online
				return &d, nil
			})),
			tracker.WithQueueOptions(
				queue.OnSent(func(batch []models.Event, _ error) { delivered.Add(int64(len(batch))) }),
				queue.OnRejected(func(batch []models.Event, _ error) { rejected.Add(int64(len(batch))) }),
			))
		if err != nil {
			closeAll(context.WithoutCancel(ctx), trackers)
			return Summary{}, fmt.Errorf("create tracker for user %d: %w", i, err)
		}
		t.Start(ctx)
		trackers = append(trackers, t)
	}

	r.logger.Info("seeding started",
		slog.Int("count", r.cfg.Count),
		slog.Int("users", users),
		slog.Duration("interval", r.cfg.Interval))

	tracked := 0
	var runErr error
generate:
	for i := 0; i < r.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		t := trackers[i%users]
		s := gen.Next()
		if s.EventType == TypePageView {
			t.PageView(s.URL, s.Title)
			t.ReportDepth(s.Depth)
		} else {
			t.Track(s.EventType, s.Payload)
		}
		tracked++

		if r.cfg.Interval > 0 && i < r.cfg.Count-1 {
			select {
			case <-ctx.Done():
				runErr = ctx.Err()
				break generate
			case <-time.After(r.cfg.Interval):
			}
		}
	}

	pending, closeErr := closeAll(context.WithoutCancel(ctx), trackers)

	summary := Summary{
		Users:     users,
		Tracked:   tracked,
		Delivered: int(delivered.Load()),
		Rejected:  int(rejected.Load()),
		Pending:   pending,
	}
	r.logger.Info("seeding finished",
		slog.Int("tracked", summary.Tracked),
		slog.Int("delivered", summary.Delivered),
		slog.Int("pending", summary.Pending))
	return summary, errors.Join(runErr, closeErr)
}

func closeAll(ctx context.Context, trackers []*tracker.Tracker) (int, error) {
	pending := 0
	var errs []error
	for _, t := range trackers {
		if _, err := t.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		pending += t.Queue().Len()
	}
	return pending, errors.Join(errs...)
}
