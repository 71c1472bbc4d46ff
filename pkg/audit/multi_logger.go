package audit

import (
	"context"
	"sync"
)

// MultiLogger fans records out to several loggers. In async mode writes
// happen in background goroutines so a slow sink never stalls the caller.
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
}

// NewMultiLogger creates a fan-out logger over the given sinks.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// SetAsync toggles background delivery.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Record appends the entry to every sink. In async mode sink errors are
// dropped; in sync mode the first error is returned (the caller still must
// not fail its own operation on it).
func (m *MultiLogger) Record(ctx context.Context, rec *Record) error {
	if m.async {
		for _, l := range m.loggers {
			m.wg.Add(1)
			go func(l Logger) {
				defer m.wg.Done()
				_ = l.Record(context.WithoutCancel(ctx), rec)
			}(l)
		}
		return nil
	}

	var firstErr error
	for _, l := range m.loggers {
		if err := l.Record(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Wait blocks until all in-flight async writes finish.
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Close waits for in-flight writes and closes every sink.
func (m *MultiLogger) Close() error {
	m.Wait()
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
