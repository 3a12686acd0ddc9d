package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/footprint-labs/footprint/internal/boundary"
	"github.com/footprint-labs/footprint/internal/logging"
)

// AuditEntry describes one request the boundary turned away.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	From       string    `json:"from"`
	Code       string    `json:"code"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditLog keeps the most recent boundary rejections and optionally appends them to a JSONL file.
// It only observes outcomes; nothing in it feeds back into how later requests are handled.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    auditSink
	now     func() time.Time
}

type auditSink interface {
	Write(entry AuditEntry) error
}

// NewAuditLog keeps up to max entries in memory. A non-empty path also appends each entry to that file.
func NewAuditLog(max int, path string) (*AuditLog, error) {
	if max <= 0 {
		max = 200
	}
	l := &AuditLog{max: max, now: time.Now}
	if path != "" {
		sink, err := newFileAuditSink(path)
		if err != nil {
			return nil, err
		}
		l.sink = sink
	}
	return l, nil
}

// Record is a boundary.Recorder that keeps rejected outcomes.
func (l *AuditLog) Record(r *http.Request, o boundary.Outcome) {
	if o.State != boundary.StateRejected {
		return
	}
	l.add(AuditEntry{
		Time:       l.now().UTC(),
		Path:       r.URL.Path,
		Method:     r.Method,
		From:       string(o.From),
		Code:       string(o.Code),
		TraceID:    logging.GetTraceID(r.Context()),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
}

func (l *AuditLog) add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(entry)
	}
}

// Recent returns up to limit of the newest entries, oldest first.
func (l *AuditLog) Recent(limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]AuditEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// Close releases the file sink.
func (l *AuditLog) Close() error {
	if s, ok := l.sink.(*fileAuditSink); ok {
		return s.Close()
	}
	return nil
}

// recorder combines the metrics counter with the audit log.
func recorder(audit *AuditLog) boundary.Recorder {
	if audit == nil {
		return boundary.MetricsRecorder
	}
	return func(r *http.Request, o boundary.Outcome) {
		boundary.MetricsRecorder(r, o)
		audit.Record(r, o)
	}
}

// fileAuditSink appends audit entries as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry AuditEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

