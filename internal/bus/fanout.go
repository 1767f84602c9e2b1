package bus

import (
	"errors"
	"log/slog"

	"github.com/rickgao/stompbridge/internal/connection"
)

// Fanout publishes every frame to each of its sinks in order. A failing sink
// does not stop the others; the errors are joined.
type Fanout struct {
	sinks  []connection.Publisher
	logger *slog.Logger
}

// NewFanout creates a fan-out over sinks. Nil sinks are skipped.
func NewFanout(logger *slog.Logger, sinks ...connection.Publisher) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish implements connection.Publisher.
func (f *Fanout) Publish(destination string, payload []byte, headers map[string]string) error {
	var errs []error
	for i, s := range f.sinks {
		if err := s.Publish(destination, payload, headers); err != nil {
			f.logger.Debug("sink publish failed",
				"sink", i,
				"destination", destination,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}
