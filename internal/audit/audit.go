// Package audit is the append-only invocation log.
//
// Every tool invocation and flow step lands here: one JSONL stream per
// tool and one per flow ("flow_<name>"), each record self-contained.
// Appends are flushed on write so a crash loses at most the in-flight
// record and never corrupts prior ones. This is deliberately not a
// high-volume log pipeline — the expected scale is a single local
// operator with a bounded tool and flow count, so Tail loads the stream
// and slices.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ashita-ai/takumi/internal/model"
)

// FlowStreamPrefix namespaces flow streams apart from tool streams,
// which are named by the bare tool name.
const FlowStreamPrefix = "flow_"

// Log is a directory of append-only JSONL streams.
type Log struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex // serializes appends across streams
}

// New creates the log directory if needed and returns a Log.
func New(dir string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	return &Log{dir: dir, logger: logger}, nil
}

// Append writes one record to the named stream. The record is marshaled
// to a single line and written with a single write on an O_APPEND
// handle, then synced — atomic at record granularity.
func (l *Log) Append(stream string, e model.RunEntry) error {
	path, err := l.streamPath(stream)
	if err != nil {
		return err
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open stream %s: %w", stream, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("audit: append to stream %s: %w", stream, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: sync stream %s: %w", stream, err)
	}
	return nil
}

// Tail returns up to limit most recent records from the named stream,
// newest first. limit <= 0 returns all records. A missing stream is an
// empty history, not an error. A torn trailing record (crash mid-write
// before sync) is skipped.
func (l *Log) Tail(stream string, limit int) ([]model.RunEntry, error) {
	path, err := l.streamPath(stream)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open stream %s: %w", stream, err)
	}
	defer f.Close()

	var entries []model.RunEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e model.RunEntry
		if err := json.Unmarshal(line, &e); err != nil {
			l.logger.Warn("audit: skipping malformed record", "stream", stream, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read stream %s: %w", stream, err)
	}

	// Insertion order on disk; serve newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Remove deletes a stream's backing file. Missing streams are a no-op.
func (l *Log) Remove(stream string) error {
	path, err := l.streamPath(stream)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("audit: remove stream %s: %w", stream, err)
	}
	return nil
}

// streamPath validates the stream id and maps it to its JSONL file.
// Stream ids are tool names or "flow_<name>", both legal identifiers,
// so a valid id can never escape the log directory.
func (l *Log) streamPath(stream string) (string, error) {
	name := strings.TrimPrefix(stream, FlowStreamPrefix)
	if err := model.ValidateName(name); err != nil {
		return "", fmt.Errorf("audit: invalid stream id %q: %w", stream, err)
	}
	return filepath.Join(l.dir, stream+".jsonl"), nil
}
