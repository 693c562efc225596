// Package notify carries user-facing feedback: toasts and a progress bar.
// The installer only emits; front-ends observe the cells or the log.
package notify

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gdorsi/BangleApps/internal/atom"
)

// Severity of a toast
type Severity string

const (
	SeverityInfo    Severity = ""
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Toaster shows short messages to the user
type Toaster interface {
	Show(msg string, severity Severity)
}

// Progress shows a single labelled progress indicator
type Progress interface {
	Show(label string)
	Hide()
}

// Toast is one message
type Toast struct {
	Seq      uint64    `json:"seq"`
	Message  string    `json:"msg"`
	Severity Severity  `json:"type,omitempty"`
	At       time.Time `json:"at"`
}

// ToastCell holds the latest toast. Every Show produces a new value, so
// repeating a message still notifies subscribers.
type ToastCell struct {
	cell *atom.Cell[*Toast]
	seq  atomic.Uint64
}

// NewToastCell creates an empty toast cell
func NewToastCell(opts ...atom.Option) *ToastCell {
	return &ToastCell{cell: atom.New[*Toast](nil, nil, opts...)}
}

// Show publishes a toast
func (t *ToastCell) Show(msg string, severity Severity) {
	t.cell.Set(&Toast{
		Seq:      t.seq.Add(1),
		Message:  msg,
		Severity: severity,
		At:       time.Now(),
	})
}

// Cell exposes the underlying cell
func (t *ToastCell) Cell() *atom.Cell[*Toast] {
	return t.cell
}

// ProgressState is the visible progress indicator; nil means hidden
type ProgressState struct {
	Label string `json:"label"`
}

// ProgressCell holds the progress indicator state
type ProgressCell struct {
	cell *atom.Cell[*ProgressState]
}

// NewProgressCell creates a hidden progress indicator
func NewProgressCell(opts ...atom.Option) *ProgressCell {
	return &ProgressCell{cell: atom.New[*ProgressState](nil, nil, opts...)}
}

// Show displays label
func (p *ProgressCell) Show(label string) {
	p.cell.Set(&ProgressState{Label: label})
}

// Hide removes the indicator. Hiding twice is a no-op.
func (p *ProgressCell) Hide() {
	p.cell.Set(nil)
}

// Cell exposes the underlying cell
func (p *ProgressCell) Cell() *atom.Cell[*ProgressState] {
	return p.cell
}

// LogToaster writes toasts to a structured logger
type LogToaster struct {
	logger *slog.Logger
}

// NewLogToaster creates a toaster backed by logger
func NewLogToaster(logger *slog.Logger) *LogToaster {
	return &LogToaster{logger: logger}
}

// Show logs the toast at a level matching its severity
func (l *LogToaster) Show(msg string, severity Severity) {
	switch severity {
	case SeverityError:
		l.logger.Error(msg, "toast", true)
	case SeverityWarning:
		l.logger.Warn(msg, "toast", true)
	default:
		l.logger.Info(msg, "toast", true, "severity", string(severity))
	}
}

// LogProgress writes progress changes to a structured logger
type LogProgress struct {
	logger *slog.Logger
}

// NewLogProgress creates a progress indicator backed by logger
func NewLogProgress(logger *slog.Logger) *LogProgress {
	return &LogProgress{logger: logger}
}

func (l *LogProgress) Show(label string) { l.logger.Info("progress", "label", label) }
func (l *LogProgress) Hide()             { l.logger.Debug("progress hidden") }

// Toasters fans a toast out to several toasters
type Toasters []Toaster

func (ts Toasters) Show(msg string, severity Severity) {
	for _, t := range ts {
		t.Show(msg, severity)
	}
}

// Progresses fans progress out to several indicators
type Progresses []Progress

func (ps Progresses) Show(label string) {
	for _, p := range ps {
		p.Show(label)
	}
}

func (ps Progresses) Hide() {
	for _, p := range ps {
		p.Hide()
	}
}

var (
	_ Toaster  = (*ToastCell)(nil)
	_ Toaster  = (*LogToaster)(nil)
	_ Toaster  = Toasters(nil)
	_ Progress = (*ProgressCell)(nil)
	_ Progress = (*LogProgress)(nil)
	_ Progress = Progresses(nil)
)
