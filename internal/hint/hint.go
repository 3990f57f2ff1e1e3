// Package hint defines the progress-hint surface shared by the deployer and
// the asset publisher. Hints are observational only; an implementation must
// never influence control flow.
package hint

import "log/slog"

// Hinter receives step-level progress notifications.
// A step is identified by a short key (e.g. "publisher.commit").
type Hinter interface {
	Start(step, msg string)
	Succeed(step string)
	Fail(step string, err error)
	Info(msg string)
}

// Nop is the default Hinter; every method does nothing.
type Nop struct{}

func (Nop) Start(string, string) {}
func (Nop) Succeed(string)       {}
func (Nop) Fail(string, error)   {}
func (Nop) Info(string)          {}

// OrNop returns h, or Nop when h is nil.
func OrNop(h Hinter) Hinter {
	if h == nil {
		return Nop{}
	}
	return h
}

// Log forwards hints to a structured logger at debug level, failures at warn.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Hinter backed by logger (slog.Default() if nil).
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "hint")}
}

func (l *Log) Start(step, msg string) {
	l.logger.Debug("Step started", "step", step, "msg", msg)
}

func (l *Log) Succeed(step string) {
	l.logger.Debug("Step succeeded", "step", step)
}

func (l *Log) Fail(step string, err error) {
	l.logger.Warn("Step failed", "step", step, "error", err)
}

func (l *Log) Info(msg string) {
	l.logger.Info(msg)
}

// Multi fans a hint out to several Hinters in order.
type Multi []Hinter

func (m Multi) Start(step, msg string) {
	for _, h := range m {
		h.Start(step, msg)
	}
}

func (m Multi) Succeed(step string) {
	for _, h := range m {
		h.Succeed(step)
	}
}

func (m Multi) Fail(step string, err error) {
	for _, h := range m {
		h.Fail(step, err)
	}
}

func (m Multi) Info(msg string) {
	for _, h := range m {
		h.Info(msg)
	}
}

var (
	_ Hinter = Nop{}
	_ Hinter = (*Log)(nil)
	_ Hinter = Multi(nil)
)
