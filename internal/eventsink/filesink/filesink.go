// Package filesink implements a Sink that appends change events to a
// JSONL manifest on disk, grounded on the teacher's deletions manifest
// pattern (internal/deletions): append-only writes with fsync for
// durability, suitable for single-node deployments without a broker.
// The change poller (C10) does not read this file.
package filesink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/entityledger/core/internal/entity"
)

// Sink appends entity.ChangeEvent records to path, one JSON object per
// line, fsyncing after every write.
type Sink struct {
	mu   sync.Mutex
	path string
}

// New builds a Sink writing to path, creating its parent directory if
// necessary.
func New(path string) (*Sink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filesink: create dir %s: %w", dir, err)
	}
	return &Sink{path: path}, nil
}

// Publish implements eventsink.Sink. Errors are logged, never returned,
// matching the write pipeline's best-effort emission contract.
func (s *Sink) Publish(_ context.Context, event entity.ChangeEvent) {
	if err := s.append(event); err != nil {
		log.Printf("filesink: append failed for %s rev=%d: %v", event.External, event.Revision, err)
	}
}

func (s *Sink) append(event entity.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return f.Sync()
}

// Replay reads every event recorded at path, in append order, skipping
// corrupt lines with a logged warning rather than failing outright.
func Replay(path string) ([]entity.ChangeEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filesink: open %s: %w", path, err)
	}
	defer f.Close()

	var events []entity.ChangeEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event entity.ChangeEvent
		if err := json.Unmarshal(line, &event); err != nil {
			log.Printf("filesink: skipping corrupt line %d in %s: %v", lineNo, path, err)
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("filesink: scan %s: %w", path, err)
	}
	return events, nil
}
