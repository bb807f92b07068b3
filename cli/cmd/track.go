package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/trackstack/tracker"
	"github.com/telhawk-systems/trackstack/tracker/device"
)

const closeTimeout = 10 * time.Second

var (
	trackPayload string
	trackURL     string
	trackTitle   string
	trackDepth   float64
)

var trackCmd = &cobra.Command{
	Use:   "track <event_type>",
	Short: "Track a single event and flush it",
	Long: `Track one event with the persistent identity from local storage and make a
final delivery attempt. Anything the gateway does not accept stays queued and
is sent by the next trackctl invocation.

Examples:
  trackctl track signup --payload '{"plan":"pro"}'
  trackctl track page_view --url https://example.com/pricing --title Pricing
  trackctl track article_read --url https://example.com/blog/1 --depth 80`,
	Args: cobra.ExactArgs(1),
	RunE: runTrack,
}

func init() {
	trackCmd.Flags().StringVar(&trackPayload, "payload", "", "event payload as a JSON object")
	trackCmd.Flags().StringVar(&trackURL, "url", "", "page URL for the event context")
	trackCmd.Flags().StringVar(&trackTitle, "title", "", "page title for the event context")
	trackCmd.Flags().Float64Var(&trackDepth, "depth", 0, "scroll depth percentage, sent as scroll_depth on exit")
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	eventType := args[0]

	var payload map[string]any
	if trackPayload != "" {
		if err := json.Unmarshal([]byte(trackPayload), &payload); err != nil {
			return fmt.Errorf("invalid --payload: %w", err)
		}
	}

	counter := &deliveryCounter{}
	opts := []tracker.Option{tracker.WithLogger(logger), counter.option()}
	if trackURL != "" && eventType != tracker.EventTypePageView {
		opts = append(opts, tracker.WithPage(device.NewPage(trackURL, "", trackTitle)))
	}

	ctx := cmd.Context()
	t, err := tracker.Init(ctx, cfg.Tracker(), opts...)
	if err != nil {
		return err
	}

	if eventType == tracker.EventTypePageView {
		t.PageView(trackURL, trackTitle)
	} else {
		t.Track(eventType, payload)
	}
	if trackDepth > 0 {
		t.ReportDepth(trackDepth)
	}

	report := startReport(t)
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	result, err := t.Close(closeCtx)
	if err != nil {
		return fmt.Errorf("close tracker: %w", err)
	}
	report.finish(t, counter, 1, result)
	return report.write(cmd.OutOrStdout())
}
