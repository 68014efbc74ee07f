// Package progress reports indexing progress to pluggable sinks. A run is
// split into phases, each owning a slice of the 0-100 range, and the
// Reporter scales phase-local fractions into that range.
package progress

import (
	"fmt"
	"log/slog"
	"sync"
)

// Update is one progress notification.
type Update struct {
	Message    string
	Percentage int // 0-100
}

// Sink receives progress updates. Delivery is fire-and-forget: an error is
// logged and never fails the run.
type Sink interface {
	SendProgress(token any, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(token any, u Update) error

// SendProgress implements Sink.
func (f SinkFunc) SendProgress(token any, u Update) error {
	return f(token, u)
}

type discard struct{}

func (discard) SendProgress(any, Update) error { return nil }

// Discard drops every update.
var Discard Sink = discard{}

// Phase is a named slice of the overall range.
type Phase struct {
	Name  string
	Start int
	End   int
}

// Phases of an indexing run, in order.
var (
	PhaseClassify  = Phase{Name: "classify", Start: 0, End: 10}
	PhaseReconcile = Phase{Name: "reconcile", Start: 10, End: 20}
	PhaseChunk     = Phase{Name: "chunk", Start: 20, End: 30}
	PhaseEmbed     = Phase{Name: "embed", Start: 30, End: 100}
)

// Scale maps done/total within the phase onto the overall range. A zero
// total counts as complete.
func (p Phase) Scale(done, total int) int {
	if total <= 0 || done >= total {
		return p.End
	}
	if done <= 0 {
		return p.Start
	}
	return p.Start + (p.End-p.Start)*done/total
}

// Reporter sends scaled updates for one run. Percentages never go
// backwards. A nil *Reporter is valid and reports nothing.
type Reporter struct {
	sink   Sink
	token  any
	logger *slog.Logger

	mu   sync.Mutex
	last int
}

// NewReporter creates a reporter for sink. A nil sink discards updates.
func NewReporter(sink Sink, token any) *Reporter {
	if sink == nil {
		sink = Discard
	}
	return &Reporter{sink: sink, token: token, logger: slog.Default(), last: -1}
}

// WithLogger sets the logger used for sink failures.
func (r *Reporter) WithLogger(logger *slog.Logger) *Reporter {
	if r != nil && logger != nil {
		r.logger = logger
	}
	return r
}

// Phase reports done/total progress inside phase.
func (r *Reporter) Phase(phase Phase, done, total int, message string) {
	r.Send(phase.Scale(done, total), message)
}

// Complete reports 100%.
func (r *Reporter) Complete(message string) {
	r.Send(100, message)
}

// Send delivers an update at an absolute percentage.
func (r *Reporter) Send(percentage int, message string) {
	if r == nil {
		return
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if percentage < r.last {
		percentage = r.last
	}
	r.last = percentage

	if err := r.deliver(Update{Message: message, Percentage: percentage}); err != nil {
		r.logger.Debug("progress_send_failed",
			slog.Int("percentage", percentage),
			slog.String("error", err.Error()))
	}
}

// deliver calls the sink, turning a panic into an error.
func (r *Reporter) deliver(u Update) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("progress sink panicked: %v", rec)
		}
	}()
	return r.sink.SendProgress(r.token, u)
}

// Last returns the most recent percentage sent, or -1 before the first.
func (r *Reporter) Last() int {
	if r == nil {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
