package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/trackstack/cli/pkg/output"
	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/tracker/platform"
)

type queuedEvent struct {
	EventID   string         `json:"event_id" yaml:"event_id"`
	EventType string         `json:"event_type" yaml:"event_type"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	UserID    string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show events waiting in the local queue",
	Long: `List the events persisted in local storage that have not been accepted by
the gateway yet. They are sent by the next track or run invocation.`,
	Args: cobra.NoArgs,
	RunE: runQueueList,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued event",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

func init() {
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	storage, err := openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	events, err := readQueue(storage)
	if err != nil {
		return err
	}

	view := make([]queuedEvent, 0, len(events))
	for _, e := range events {
		view = append(view, queuedEvent{
			EventID:   e.EventID,
			EventType: e.EventType,
			Timestamp: e.Timestamp,
			UserID:    e.UserID,
			SessionID: e.SessionID,
			Payload:   e.Payload,
		})
	}

	w := cmd.OutOrStdout()
	if len(view) == 0 && (outputFormat == output.FormatTable || outputFormat == "") {
		output.Info(w, "Queue is empty")
		return nil
	}
	return output.Render(w, outputFormat, view, func() *output.Table {
		tbl := output.NewTable("EVENT ID", "TYPE", "TIMESTAMP", "USER")
		for _, e := range view {
			tbl.AddRow(e.EventID, e.EventType, e.Timestamp.Format(time.RFC3339), e.UserID)
		}
		return tbl
	})
}

func runQueueClear(cmd *cobra.Command, _ []string) error {
	storage, err := openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	events, err := readQueue(storage)
	if err != nil {
		logger.Warn("queue was unreadable, clearing anyway", logging.Error(err))
	}
	if err := storage.Delete(platform.KeyQueue); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	output.Success(cmd.OutOrStdout(), "Discarded %d queued event(s)", len(events))
	return nil
}

func readQueue(storage platform.Storage) ([]models.Event, error) {
	raw, ok, err := storage.Get(platform.KeyQueue)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var events []models.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return events, nil
}
