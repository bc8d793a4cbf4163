// Package audit writes the append-only audit.log JSONL stream described
// in spec §6 ("one line per event: {ts, ver, src, corrId?, payload}").
//
// Grounded in the teacher's storage.bolt ledger bucket (append-only,
// single-writer, rotation-aware) but targeting a flat file as the spec
// requires, not BoltDB — BoltDB is reserved in this port for the
// restart-recovery checkpoints described in SPEC_FULL.md (baselines,
// drawdown watermark, endpoint FSM state), which are a different
// durability concern than the human-auditable event trail.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

const schemaVersion = 1

// Entry is one line of the audit.log stream.
type Entry struct {
	Ts      time.Time `json:"ts"`
	Ver     int       `json:"ver"`
	Src     string    `json:"src"`
	CorrID  string    `json:"corrId,omitempty"`
	Payload any       `json:"payload"`
}

// Sink is an append-only, rotation-aware JSONL writer. One Sink instance
// owns its file; writes are serialized by a per-file mutex (§5 "File
// sinks: append-only, guarded by a per-file write mutex").
type Sink struct {
	mu          sync.Mutex
	path        string
	f           *os.File
	w           *bufio.Writer
	maxBytes    int64
	written     int64
	maxBackups  int
}

// Options configures rotation. MaxBytes <= 0 disables size-based rotation.
type Options struct {
	MaxBytes   int64
	MaxBackups int
}

// Open opens (creating if needed) the audit log file at path.
func Open(path string, opts Options) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: stat %q: %w", path, err)
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	return &Sink{
		path:       path,
		f:          f,
		w:          bufio.NewWriter(f),
		maxBytes:   opts.MaxBytes,
		written:    info.Size(),
		maxBackups: opts.MaxBackups,
	}, nil
}

// Write appends one entry as a JSON line, rotating first if this write
// would exceed maxBytes.
func (s *Sink) Write(e Entry) error {
	e.Ver = schemaVersion
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 && s.written+int64(len(line)) > s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := s.w.Write(line)
	if err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	s.written += int64(n)
	return s.w.Flush()
}

// rotateLocked renames the active file to a timestamped backup, prunes
// old backups beyond maxBackups, and opens a fresh file. Caller must hold
// s.mu.
func (s *Sink) rotateLocked() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("audit: flush before rotate: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("audit: close before rotate: %w", err)
	}

	backup := fmt.Sprintf("%s.%s", s.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("audit: rotate rename: %w", err)
	}
	s.pruneBackups()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: reopen after rotate: %w", err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	s.written = 0
	return nil
}

// pruneBackups keeps at most maxBackups rotated files, oldest first.
func (s *Sink) pruneBackups() {
	dir := s.path + ".*"
	matches, err := globErr(dir)
	if err != nil || len(matches) <= s.maxBackups {
		return
	}
	excess := len(matches) - s.maxBackups
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
