package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JSONLLog persists run records as an append-only file with one JSON
// record per line. A run appears once when it begins and again when it is
// finalized; on replay the last line per run id wins.
type JSONLLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenJSONLLog opens (or creates) the log file at path in append mode.
func OpenJSONLLog(path string) (*JSONLLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating run log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return &JSONLLog{path: path, file: f}, nil
}

// Append writes one record as a single line and syncs it to disk.
func (l *JSONLLog) Append(ctx context.Context, rec *RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	return l.file.Sync()
}

// Replay reads the whole log and returns the latest version of each record.
func (l *JSONLLog) Replay(ctx context.Context) ([]*RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading run log: %w", err)
	}
	defer f.Close()

	latest := make(map[string]*RunRecord)
	order := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var rec RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("run log line %d: %w", line, err)
		}
		if _, seen := latest[rec.ID]; !seen {
			order[rec.ID] = line
		}
		latest[rec.ID] = &rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading run log: %w", err)
	}

	out := make([]*RunRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return order[out[i].ID] < order[out[j].ID]
	})
	return out, nil
}

// Close closes the underlying file.
func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Ensure JSONLLog implements Log.
var _ Log = (*JSONLLog)(nil)
