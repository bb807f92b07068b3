package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/telhawk-systems/trackstack/common/logging"
)

// Queue writes failed records to a directory, one JSON file each.
// Single instance only.
type Queue struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
	written  uint64
}

var _ Writer = (*Queue)(nil)

// NewQueue creates a file DLQ rooted at basePath.
func NewQueue(basePath string, logger *slog.Logger) (*Queue, error) {
	if basePath == "" {
		basePath = "/var/lib/trackstack/dlq"
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &Queue{
		basePath: basePath,
		logger:   logging.OrDefault(logger),
	}, nil
}

func (q *Queue) Write(ctx context.Context, failed *FailedRecord) error {
	if q == nil {
		return ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	filename := fmt.Sprintf("failed_%d_p%d_%d.json",
		failed.Timestamp.UnixNano(),
		failed.Partition,
		failed.Offset,
	)

	data, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if err := os.WriteFile(filepath.Join(q.basePath, filename), data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.WarnContext(ctx, "record written to dlq",
		slog.String("file", filename),
		slog.String("reason", failed.Reason),
		logging.EventID(failed.EventID),
		logging.Partition(failed.Partition))
	return nil
}

func (q *Queue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files()
	if err != nil {
		return map[string]interface{}{
			"enabled": true,
			"backend": "file",
			"written": q.written,
			"error":   err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":       true,
		"backend":       "file",
		"written":       q.written,
		"pending_files": len(files),
		"base_path":     q.basePath,
	}
}

// List returns up to limit failed records, oldest first. limit <= 0 returns all.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedRecord, error) {
	if q == nil {
		return nil, ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files()
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}

	var records []FailedRecord
	for _, name := range files {
		if limit > 0 && len(records) >= limit {
			break
		}

		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.Error("failed to read dlq file", slog.String("file", name), logging.Error(err))
			continue
		}

		var failed FailedRecord
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.Error("failed to parse dlq file", slog.String("file", name), logging.Error(err))
			continue
		}
		records = append(records, failed)
	}

	return records, nil
}

func (q *Queue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files()
	if err != nil {
		return fmt.Errorf("read dlq directory: %w", err)
	}

	for _, name := range files {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
			return fmt.Errorf("delete dlq file: %w", err)
		}
	}

	q.logger.Info("dlq purged", logging.Count(len(files)))
	return nil
}

// files lists entry names sorted by name, which sorts by write time.
func (q *Queue) files() ([]string, error) {
	entries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
