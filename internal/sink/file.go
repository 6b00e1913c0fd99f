// Package sink persists extracted records.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/question-extractor/internal/extraction"
)

// File appends one JSON record per line to a shared file.
type File struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFile returns a sink writing to path, creating the parent directory.
func NewFile(path string, logger *zap.Logger) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir for %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: path, logger: logger}, nil
}

// Path returns the output artifact location.
func (s *File) Path() string {
	return s.path
}

// Append writes the record as a single compact line. The whole line goes out
// in one write on an append-only descriptor and is synced before returning.
func (s *File) Append(ctx context.Context, record extraction.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	line, err := encodeLine(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path comes from configuration.
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open output %s: %w", s.path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record to %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync output %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", s.path, err)
	}
	s.logger.Debug("record appended", zap.String("path", s.path), zap.Int("bytes", len(line)))
	return nil
}

func encodeLine(record extraction.Record) ([]byte, error) {
	if len(record.Payload) == 0 {
		return nil, fmt.Errorf("empty record payload")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, record.Payload); err != nil {
		return nil, fmt.Errorf("compact record: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Multi appends to a primary sink and then, best-effort, to mirrors. Only a
// primary failure is reported to the caller.
type Multi struct {
	primary extraction.Sink
	mirrors []extraction.Sink
	logger  *zap.Logger
}

// NewMulti wires a primary sink with optional mirrors.
func NewMulti(primary extraction.Sink, logger *zap.Logger, mirrors ...extraction.Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{primary: primary, mirrors: mirrors, logger: logger}
}

// Append writes to the primary sink, then each mirror.
func (m *Multi) Append(ctx context.Context, record extraction.Record) error {
	if err := m.primary.Append(ctx, record); err != nil {
		return fmt.Errorf("primary sink: %w", err)
	}
	for i, mirror := range m.mirrors {
		if mirror == nil {
			continue
		}
		if err := mirror.Append(ctx, record); err != nil {
			m.logger.Warn("mirror sink append failed", zap.Int("mirror", i), zap.Error(err))
		}
	}
	return nil
}
