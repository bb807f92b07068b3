package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/tracker"
)

// inputEvent is one NDJSON line accepted by run.
type inputEvent struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	URL       string         `json:"url"`
	Title     string         `json:"title"`
	Depth     float64        `json:"depth"`
}

const maxInputLine = 1 << 20

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track NDJSON events from stdin with live delivery",
	Long: `Read one JSON object per line from stdin and track it. The queue runs with
all of its triggers (batch size, batch interval, health ping, reachability
probe), so events flow while input arrives. At end of input, SIGINT or
SIGTERM a final flush is made.

Input lines look like:
  {"event_type":"click","payload":{"button":"buy"}}
  {"event_type":"page_view","url":"https://example.com/","title":"Home","depth":60}`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counter := &deliveryCounter{}
	t, err := tracker.Init(ctx, cfg.Tracker(), tracker.WithLogger(logger), counter.option())
	if err != nil {
		return err
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go readLines(ctx, cmd.InOrStdin(), lines, readErr)

	tracked, invalid := 0, 0
	var inputErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, flushing queue")
			break loop
		case line, ok := <-lines:
			if !ok {
				inputErr = <-readErr
				break loop
			}
			if trackLine(t, line) {
				tracked++
			} else {
				invalid++
			}
		}
	}

	report := startReport(t)
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	result, err := t.Close(closeCtx)
	if err != nil {
		return fmt.Errorf("close tracker: %w", err)
	}

	report.finish(t, counter, tracked, result)
	report.Invalid = invalid
	if err := report.write(cmd.OutOrStdout()); err != nil {
		return err
	}
	if inputErr != nil {
		return fmt.Errorf("read input: %w", inputErr)
	}
	return nil
}

// readLines sends every non-empty line to out and closes it at end of input.
func readLines(ctx context.Context, r io.Reader, out chan<- []byte, errc chan<- error) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxInputLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		select {
		case out <- buf:
		case <-ctx.Done():
			errc <- nil
			return
		}
	}
	errc <- scanner.Err()
}

func trackLine(t *tracker.Tracker, line []byte) bool {
	var in inputEvent
	if err := json.Unmarshal(line, &in); err != nil {
		logger.Warn("skipping malformed input line", logging.Error(err))
		return false
	}
	if in.EventType == "" {
		logger.Warn("skipping input line without event_type")
		return false
	}

	if in.EventType == tracker.EventTypePageView {
		t.PageView(in.URL, in.Title)
	} else {
		t.Track(in.EventType, in.Payload)
	}
	if in.Depth > 0 {
		t.ReportDepth(in.Depth)
	}
	logger.Debug("tracked", logging.EventType(in.EventType))
	return true
}
