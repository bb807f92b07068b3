package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/trackstack/cli/pkg/output"
	"github.com/telhawk-systems/trackstack/tracker/platform"
)

type identityView struct {
	UserID       string     `json:"user_id" yaml:"user_id"`
	SessionID    string     `json:"session_id" yaml:"session_id"`
	LastActivity *time.Time `json:"last_activity,omitempty" yaml:"last_activity,omitempty"`
	Expired      bool       `json:"session_expired" yaml:"session_expired"`
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the persisted user and session ids",
	Long: `Print the user id and session id stored locally without touching them.
A session idle for longer than the session timeout is reported as expired;
the next tracked event starts a new one.`,
	Args: cobra.NoArgs,
	RunE: runIdentity,
}

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the user and session ids",
	Long:  "Remove the stored ids so the next invocation behaves like a fresh installation. Queued events are kept.",
	Args:  cobra.NoArgs,
	RunE:  runIdentityReset,
}

func init() {
	identityCmd.AddCommand(identityResetCmd)
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, _ []string) error {
	storage, err := openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	var view identityView
	for key, dst := range map[string]*string{
		platform.KeyUserID:    &view.UserID,
		platform.KeySessionID: &view.SessionID,
	} {
		v, _, err := storage.Get(key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		*dst = v
	}

	raw, ok, err := storage.Get(platform.KeySessionStart)
	if err != nil {
		return fmt.Errorf("read %s: %w", platform.KeySessionStart, err)
	}
	if ms, perr := strconv.ParseInt(raw, 10, 64); ok && perr == nil {
		at := time.UnixMilli(ms).UTC()
		view.LastActivity = &at
		view.Expired = time.Since(at) > cfg.SessionTimeout
	}
	if view.SessionID == "" {
		view.Expired = true
	}

	w := cmd.OutOrStdout()
	if view.UserID == "" && (outputFormat == output.FormatTable || outputFormat == "") {
		output.Info(w, "No identity stored yet at %s", cfg.Storage.Path)
		return nil
	}
	return output.Render(w, outputFormat, view, func() *output.Table {
		last := "-"
		if view.LastActivity != nil {
			last = view.LastActivity.Format(time.RFC3339)
		}
		tbl := output.NewTable("FIELD", "VALUE")
		tbl.AddRow("user_id", view.UserID)
		tbl.AddRow("session_id", view.SessionID)
		tbl.AddRow("last_activity", last)
		tbl.AddRow("session_expired", strconv.FormatBool(view.Expired))
		return tbl
	})
}

func runIdentityReset(cmd *cobra.Command, _ []string) error {
	storage, err := openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	for _, key := range []string{platform.KeyUserID, platform.KeySessionID, platform.KeySessionStart} {
		if err := storage.Delete(key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	output.Success(cmd.OutOrStdout(), "Identity removed from %s", cfg.Storage.Path)
	return nil
}
