// Package alerting implements the metrics/alert sink the cache reports into.
// Emission is fire-and-forget: a slow or absent sink must never block a cache
// operation.
package alerting

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Level grades an event.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event is one observation reported to the sink.
type Event struct {
	Component string                 `json:"component"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(event Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// LogSink writes events to a logrus logger.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink that logs every event.
func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event Event) {
	fields := logrus.Fields{
		"component": event.Component,
		"level":     event.Level,
	}
	for k, v := range event.Metrics {
		fields[k] = v
	}
	entry := s.logger.WithFields(fields)
	switch event.Level {
	case LevelCritical, LevelError:
		entry.Error(event.Message)
	case LevelWarning:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
}

// AsyncSink decouples emitters from a possibly slow downstream sink with a
// buffered channel. Events are dropped, not queued unboundedly, when the
// buffer is full.
type AsyncSink struct {
	next    Sink
	ch      chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsyncSink wraps next with a buffer of the given size and starts the
// forwarding goroutine.
func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		next: next,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops the forwarding goroutine after draining buffered events.
func (s *AsyncSink) Close() {
	close(s.ch)
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for event := range s.ch {
		s.next.Emit(event)
	}
}
