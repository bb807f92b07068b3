package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/trackstack/common/logging"
	"github.com/telhawk-systems/trackstack/common/messaging/memlog"
	"github.com/telhawk-systems/trackstack/common/models"
	"github.com/telhawk-systems/trackstack/ingest/pkg/gateway"
	"github.com/telhawk-systems/trackstack/tracker/platform"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

// execute runs trackctl with args and returns stdout. Flag values are reset
// afterwards because cobra keeps them in package variables.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func startGateway(t *testing.T) (*httptest.Server, *memlog.Log) {
	t.Helper()
	log := memlog.New(4)
	srv := httptest.NewServer(gateway.NewHandler(gateway.Options{Log: log, Health: log, Logger: logging.Discard()}))
	t.Cleanup(srv.Close)
	return srv, log
}

func storageArgs(path string) []string {
	return []string{"--storage-backend", platform.BackendSQLite, "--storage-path", path}
}

// args places the command words first and the shared flags last.
func args(flags []string, words ...string) []string {
	return append(append([]string{}, words...), flags...)
}

func eventTypes(t *testing.T, log *memlog.Log) []string {
	t.Helper()
	var types []string
	for p := 0; p < log.Partitions(); p++ {
		for _, rec := range log.Records(p) {
			var e models.Event
			require.NoError(t, json.Unmarshal(rec.Data, &e))
			types = append(types, e.EventType)
		}
	}
	return types
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{"track": false, "run": false, "seed": false, "queue": false, "identity": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := expected[c.Name()]; ok {
			expected[c.Name()] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "command %q not registered", name)
	}

	assert.NotNil(t, queueCmd.Commands())
	assert.Equal(t, "clear", queueClearCmd.Name())
	assert.Equal(t, "reset", identityResetCmd.Name())
}

func TestTrack_Delivers(t *testing.T) {
	gw, log := startGateway(t)
	store := filepath.Join(t.TempDir(), "state.db")

	out, err := execute(t, "", args(storageArgs(store), "track", "signup",
		"--payload", `{"plan":"pro"}`, "--endpoint", gw.URL, "-o", "json")...)
	require.NoError(t, err)

	var report deliveryReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Tracked)
	assert.Equal(t, 2, report.Delivered)
	assert.Zero(t, report.Pending)
	assert.Equal(t, "sent", report.Result)
	assert.NotEmpty(t, report.UserID)

	assert.ElementsMatch(t, []string{"signup", "time_on_page"}, eventTypes(t, log))

	// identity reads back the same persisted user without changing it
	out, err = execute(t, "", args(storageArgs(store), "identity", "-o", "json")...)
	require.NoError(t, err)
	var view identityView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, report.UserID, view.UserID)
	assert.Equal(t, report.SessionID, view.SessionID)
	require.NotNil(t, view.LastActivity)
	assert.WithinDuration(t, time.Now(), *view.LastActivity, time.Minute)
	assert.False(t, view.Expired)
}

func TestTrack_GatewayDownKeepsEventsForNextRun(t *testing.T) {
	store := filepath.Join(t.TempDir(), "state.db")
	down := httptest.NewServer(nil)
	downURL := down.URL
	down.Close()

	out, err := execute(t, "", args(storageArgs(store), "track", "checkout", "--endpoint", downURL, "-o", "json")...)
	require.NoError(t, err)
	var report deliveryReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Delivered)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, "offline", report.Result)

	out, err = execute(t, "", args(storageArgs(store), "queue", "-o", "json")...)
	require.NoError(t, err)
	var queued []queuedEvent
	require.NoError(t, json.Unmarshal([]byte(out), &queued))
	require.Len(t, queued, 2)
	assert.Equal(t, "checkout", queued[0].EventType)
	assert.Equal(t, "time_on_page", queued[1].EventType)
	assert.Equal(t, report.UserID, queued[0].UserID)

	gw, log := startGateway(t)
	out, err = execute(t, "", args(storageArgs(store), "track", "page_view",
		"--url", "https://shop.example.com/", "--title", "Home", "--endpoint", gw.URL)...)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Delivered 4 event(s)")

	types := eventTypes(t, log)
	assert.ElementsMatch(t, []string{"checkout", "time_on_page", "page_view", "time_on_page"}, types)

	out, err = execute(t, "", args(storageArgs(store), "queue")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty")
}

func TestTrack_InvalidPayload(t *testing.T) {
	store := filepath.Join(t.TempDir(), "state.db")
	_, err := execute(t, "", args(storageArgs(store), "track", "signup", "--payload", "{not json")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --payload")
}

func TestRun_TracksNDJSON(t *testing.T) {
	gw, log := startGateway(t)
	store := filepath.Join(t.TempDir(), "state.db")

	input := strings.Join([]string{
		`{"event_type":"click","payload":{"button":"buy"}}`,
		`not json`,
		``,
		`{"event_type":"page_view","url":"https://shop.example.com/cart","title":"Cart","depth":60}`,
		`{"payload":{"missing":"type"}}`,
	}, "\n")

	out, err := execute(t, input, args(storageArgs(store), "run", "--endpoint", gw.URL, "-o", "json")...)
	require.NoError(t, err)

	var report deliveryReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Tracked)
	assert.Equal(t, 2, report.Invalid)
	assert.Equal(t, 4, report.Delivered)
	assert.Zero(t, report.Pending)

	assert.ElementsMatch(t, []string{"click", "page_view", "time_on_page", "scroll_depth"}, eventTypes(t, log))
}

func TestSeed(t *testing.T) {
	gw, log := startGateway(t)

	out, err := execute(t, "", "seed", "--endpoint", gw.URL, "--count", "12", "--users", "2", "--seed", "5", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "users: 2")
	assert.Contains(t, out, "tracked: 12")
	assert.Contains(t, out, "pending: 0")
	assert.GreaterOrEqual(t, log.Len(), 14)
}

func TestSeed_UnknownType(t *testing.T) {
	gw, _ := startGateway(t)
	_, err := execute(t, "", "seed", "--endpoint", gw.URL, "--types", "refund")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown event type "refund"`)
}

func TestQueueClear(t *testing.T) {
	store := filepath.Join(t.TempDir(), "state.db")

	s, err := platform.OpenSQLite(store)
	require.NoError(t, err)
	events := []models.Event{
		{EventID: "e-1", EventType: "click", Timestamp: time.Now().UTC(), UserID: "u-1"},
		{EventID: "e-2", EventType: "search", Timestamp: time.Now().UTC(), UserID: "u-1"},
	}
	raw, err := json.Marshal(events)
	require.NoError(t, err)
	require.NoError(t, s.Set(platform.KeyQueue, string(raw)))
	require.NoError(t, s.Close())

	out, err := execute(t, "", args(storageArgs(store), "queue")...)
	require.NoError(t, err)
	assert.Contains(t, out, "EVENT ID")
	assert.Contains(t, out, "e-1")
	assert.Contains(t, out, "search")

	out, err = execute(t, "", args(storageArgs(store), "queue", "clear")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Discarded 2 queued event(s)")

	out, err = execute(t, "", args(storageArgs(store), "queue", "-o", "json")...)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestIdentity_ResetAndEmpty(t *testing.T) {
	store := filepath.Join(t.TempDir(), "state.db")

	s, err := platform.OpenSQLite(store)
	require.NoError(t, err)
	require.NoError(t, s.Set(platform.KeyUserID, "u-42"))
	require.NoError(t, s.Set(platform.KeySessionID, "s-1"))
	require.NoError(t, s.Set(platform.KeySessionStart, "1000"))
	require.NoError(t, s.Close())

	out, err := execute(t, "", args(storageArgs(store), "identity")...)
	require.NoError(t, err)
	assert.Contains(t, out, "u-42")
	assert.Contains(t, out, "1970-01-01T00:00:01Z")
	assert.Regexp(t, `session_expired\s+true`, out)

	out, err = execute(t, "", args(storageArgs(store), "identity", "reset")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Identity removed")

	out, err = execute(t, "", args(storageArgs(store), "identity")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No identity stored yet")
}

func TestInvalidFlags(t *testing.T) {
	store := filepath.Join(t.TempDir(), "state.db")

	_, err := execute(t, "", args(storageArgs(store), "queue", "-o", "xml")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")

	_, err = execute(t, "", "queue", "--storage-backend", "redis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}
