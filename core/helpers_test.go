package core

import (
	"context"
	"sync"
)

// logEntry is one call captured by recordingLogger.
type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

// recordingLogger captures log calls for assertions. Child loggers created by
// WithComponent share the parent's entries.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) record(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) Info(msg string, fields map[string]interface{}) {
	l.record("info", msg, fields)
}
func (l *recordingLogger) Error(msg string, fields map[string]interface{}) {
	l.record("error", msg, fields)
}
func (l *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	l.record("warn", msg, fields)
}
func (l *recordingLogger) Debug(msg string, fields map[string]interface{}) {
	l.record("debug", msg, fields)
}

func (l *recordingLogger) WithComponent(component string) Logger {
	return l
}

// find returns the first entry at level with message msg.
func (l *recordingLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range *l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func (l *recordingLogger) has(level, msg string) bool {
	_, ok := l.find(level, msg)
	return ok
}

// recordedSpan is a span captured by recordingTelemetry.
type recordedSpan struct {
	name  string
	attrs map[string]interface{}
	errs  []error
	ended bool
}

func (s *recordedSpan) End()                                       { s.ended = true }
func (s *recordedSpan) SetAttribute(key string, value interface{}) { s.attrs[key] = value }
func (s *recordedSpan) RecordError(err error)                      { s.errs = append(s.errs, err) }

type recordingTelemetry struct {
	mu      sync.Mutex
	spans   []*recordedSpan
	metrics map[string]float64
}

func newRecordingTelemetry() *recordingTelemetry {
	return &recordingTelemetry{metrics: make(map[string]float64)}
}

func (r *recordingTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := &recordedSpan{name: name, attrs: make(map[string]interface{})}
	r.spans = append(r.spans, span)
	return ctx, span
}

func (r *recordingTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] += value
}

func (r *recordingTelemetry) metric(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics[name]
}

func (r *recordingTelemetry) spansNamed(name string) []*recordedSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*recordedSpan
	for _, s := range r.spans {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}
