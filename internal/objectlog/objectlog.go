// Package objectlog writes one CSV record per object delivered through the
// relay, per the persisted-state object log format: one append-only file
// per track, each record group_id,subgroup_id,object_id,payload_size,
// timestamp_ms.
package objectlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Logger appends one CSV row per logged object, keyed by track alias, to a
// file under Dir. Files are opened lazily and kept open for the process
// lifetime; call Close to flush and release them.
type Logger struct {
	dir string

	mu      sync.Mutex
	writers map[uint64]*trackWriter
	nowMS   func() int64
}

type trackWriter struct {
	file *os.File
	csv  *csv.Writer
}

// New creates a Logger writing under dir, creating it if necessary.
func New(dir string, nowMS func() int64) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectlog: create dir: %w", err)
	}
	return &Logger{dir: dir, writers: make(map[uint64]*trackWriter), nowMS: nowMS}, nil
}

// LogObject implements relay.ObjectLogger.
func (l *Logger) LogObject(connID string, trackAlias, groupID, subgroupID, objectID uint64, payloadSize int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.writerFor(trackAlias)
	if err != nil {
		return
	}
	record := []string{
		strconv.FormatUint(groupID, 10),
		strconv.FormatUint(subgroupID, 10),
		strconv.FormatUint(objectID, 10),
		strconv.Itoa(payloadSize),
		strconv.FormatInt(l.nowMS(), 10),
	}
	if err := w.csv.Write(record); err != nil {
		return
	}
	w.csv.Flush()
}

func (l *Logger) writerFor(trackAlias uint64) (*trackWriter, error) {
	if w, ok := l.writers[trackAlias]; ok {
		return w, nil
	}
	path := filepath.Join(l.dir, fmt.Sprintf("track-%d.csv", trackAlias))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &trackWriter{file: f, csv: csv.NewWriter(f)}
	l.writers[trackAlias] = w
	return w, nil
}

// Close flushes and closes every open per-track file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, w := range l.writers {
		w.csv.Flush()
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.writers = make(map[uint64]*trackWriter)
	return firstErr
}
