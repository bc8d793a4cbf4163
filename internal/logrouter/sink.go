package logrouter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Codec names a sink's wire format.
type Codec string

const (
	CodecJSONL Codec = "jsonl" // file/object storage sinks
	CodecLP    Codec = "lp"    // InfluxDB line protocol, columnar sinks
)

// EnrichedRecord is a Record plus the classification and tags the router
// pipeline attached to it.
type EnrichedRecord struct {
	Record
	Classification string   `json:"classification"`
	Tags           []string `json:"tags,omitempty"`
}

// Writer is the sink-side delivery function a Sink calls on flush. It
// returns an error if the whole batch failed to write.
type Writer func(batch []EnrichedRecord) error

// Sink batches enriched records and flushes them to a Writer either when
// the batch reaches maxBatch records or maxWait elapses since the first
// record in the batch, whichever comes first.
type Sink struct {
	mu       sync.Mutex
	name     string
	codec    Codec
	maxBatch int
	maxWait  time.Duration
	write    Writer
	spoolDir string

	batch     []EnrichedRecord
	openedAt  time.Time
	retryCh   chan []EnrichedRecord
	stop      chan struct{}
	wg        sync.WaitGroup

	flushedTotal int
	droppedTotal int
}

// NewSink constructs a Sink and starts its background retry worker.
func NewSink(name string, codec Codec, maxBatch int, maxWait time.Duration, spoolDir string, write Writer) *Sink {
	s := &Sink{
		name:     name,
		codec:    codec,
		maxBatch: maxBatch,
		maxWait:  maxWait,
		write:    write,
		spoolDir: spoolDir,
		retryCh:  make(chan []EnrichedRecord, 256),
		stop:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.retryLoop()
	return s
}

// Append adds r to the batch, flushing immediately if the batch is now full.
func (s *Sink) Append(r EnrichedRecord) {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.openedAt = time.Now()
	}
	s.batch = append(s.batch, r)
	full := len(s.batch) >= s.maxBatch
	var toFlush []EnrichedRecord
	if full {
		toFlush = s.batch
		s.batch = nil
	}
	s.mu.Unlock()
	if toFlush != nil {
		s.flush(toFlush)
	}
}

// TickAge flushes the current batch if it has aged past maxWait, even if
// not full. Callers invoke this on a periodic ticker (driven by
// clock.tick1m or a finer-grained internal ticker).
func (s *Sink) TickAge() {
	s.mu.Lock()
	if len(s.batch) == 0 || time.Since(s.openedAt) < s.maxWait {
		s.mu.Unlock()
		return
	}
	toFlush := s.batch
	s.batch = nil
	s.mu.Unlock()
	s.flush(toFlush)
}

func (s *Sink) flush(batch []EnrichedRecord) {
	if err := s.write(batch); err != nil {
		select {
		case s.retryCh <- batch:
		default:
			s.deadLetter(batch)
		}
		return
	}
	s.mu.Lock()
	s.flushedTotal++
	s.mu.Unlock()
}

// retryLoop drains retried batches with jittered exponential backoff,
// dead-lettering anything that exhausts its retry budget.
func (s *Sink) retryLoop() {
	defer s.wg.Done()
	const maxAttempts = 5
	for {
		select {
		case <-s.stop:
			return
		case batch := <-s.retryCh:
			s.retryWithBackoff(batch, maxAttempts)
		}
	}
}

func (s *Sink) retryWithBackoff(batch []EnrichedRecord, maxAttempts int) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		backoff := time.Duration(100*(1<<uint(attempt))) * time.Millisecond
		backoff += time.Duration(rand.Intn(100)) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-s.stop:
			return
		}
		if err := s.write(batch); err == nil {
			s.mu.Lock()
			s.flushedTotal++
			s.mu.Unlock()
			return
		}
	}
	s.deadLetter(batch)
}

// deadLetter appends exhausted batches to a local spool jsonl file, one
// record per line, regardless of the sink's own codec.
func (s *Sink) deadLetter(batch []EnrichedRecord) {
	s.mu.Lock()
	s.droppedTotal += len(batch)
	s.mu.Unlock()

	if s.spoolDir == "" {
		return
	}
	path := filepath.Join(s.spoolDir, s.name+".dlq.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, r := range batch {
		line, err := json.Marshal(r)
		if err != nil {
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	w.Flush()
}

// Close stops the retry worker. Any batch still in the retry channel is
// dead-lettered rather than dropped silently.
func (s *Sink) Close() {
	close(s.stop)
	s.wg.Wait()
	for {
		select {
		case batch := <-s.retryCh:
			s.deadLetter(batch)
		default:
			return
		}
	}
}

// EncodeJSONL renders a batch as newline-delimited JSON.
func EncodeJSONL(batch []EnrichedRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range batch {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// EncodeLP renders a batch as InfluxDB line protocol:
// measurement,tag=... field=... timestamp
func EncodeLP(batch []EnrichedRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range batch {
		fmt.Fprintf(&buf, "logs,source=%s,level=%s message=%q",
			lpEscape(r.Source), lpEscape(r.Level), r.Message)
		if r.Classification != "" {
			fmt.Fprintf(&buf, ",classification=%q", r.Classification)
		}
		fmt.Fprintf(&buf, " %s\n", r.Ts)
	}
	return buf.Bytes(), nil
}

func lpEscape(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		if r == ',' || r == ' ' || r == '=' {
			buf.WriteByte('\\')
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
