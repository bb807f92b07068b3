package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/telhawk-systems/trackstack/cli/pkg/output"
	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/tracker"
	"github.com/telhawk-systems/trackstack/tracker/queue"
)

var errRejected = errors.New("collector rejected events")

// deliveryCounter counts what the queue delivered or had rejected. The queue
// calls it from background flushes.
type deliveryCounter struct {
	delivered atomic.Int64
	rejected  atomic.Int64
}

func (c *deliveryCounter) option() tracker.Option {
	return tracker.WithQueueOptions(
		queue.OnSent(func(batch []models.Event, _ error) { c.delivered.Add(int64(len(batch))) }),
		queue.OnRejected(func(batch []models.Event, _ error) { c.rejected.Add(int64(len(batch))) }),
	)
}

type deliveryReport struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	UserID    string `json:"user_id" yaml:"user_id"`
	SessionID string `json:"session_id" yaml:"session_id"`
	Tracked   int    `json:"tracked" yaml:"tracked"`
	Invalid   int    `json:"invalid,omitempty" yaml:"invalid,omitempty"`
	Delivered int    `json:"delivered" yaml:"delivered"`
	Rejected  int    `json:"rejected" yaml:"rejected"`
	Pending   int    `json:"pending" yaml:"pending"`
	Result    string `json:"final_flush" yaml:"final_flush"`
}

// startReport captures the identity before Close releases local storage.
func startReport(t *tracker.Tracker) deliveryReport {
	return deliveryReport{
		Endpoint:  cfg.Endpoint,
		UserID:    t.UserID(),
		SessionID: t.SessionID(),
	}
}

func (r *deliveryReport) finish(t *tracker.Tracker, c *deliveryCounter, tracked int, result queue.Result) {
	r.Tracked = tracked
	r.Delivered = int(c.delivered.Load())
	r.Rejected = int(c.rejected.Load())
	r.Pending = t.Queue().Len()
	r.Result = result.String()
}

// write renders the report. Rejections turn into an error so scripts notice.
func (r deliveryReport) write(w io.Writer) error {
	if outputFormat != output.FormatTable && outputFormat != "" {
		if err := output.Render(w, outputFormat, r, nil); err != nil {
			return err
		}
	} else {
		switch {
		case r.Rejected > 0:
			output.Error(w, "%d event(s) rejected by %s", r.Rejected, r.Endpoint)
		case r.Pending > 0:
			output.Warn(w, "Gateway unavailable (%s), %d event(s) kept for the next run", r.Result, r.Pending)
		default:
			output.Success(w, "Delivered %d event(s) to %s", r.Delivered, r.Endpoint)
		}
		if r.Invalid > 0 {
			output.Warn(w, "Skipped %d invalid input line(s)", r.Invalid)
		}
		tbl := output.NewTable("USER", "SESSION", "TRACKED", "DELIVERED", "PENDING")
		tbl.AddRow(r.UserID, r.SessionID, strconv.Itoa(r.Tracked), strconv.Itoa(r.Delivered), strconv.Itoa(r.Pending))
		tbl.Render(w)
	}

	if r.Rejected > 0 {
		return fmt.Errorf("%w: %d event(s)", errRejected, r.Rejected)
	}
	return nil
}
