package orchestrator

import (
	"time"

	"github.com/gdorsi/BangleApps/internal/atom"
)

// Phase is where the current operation is in its lifecycle
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseConnecting            Phase = "connecting"
	PhaseResolvingDependencies Phase = "resolving_dependencies"
	PhaseTransferring          Phase = "transferring"
	PhaseSuccess               Phase = "success"
	PhaseFailed                Phase = "failed"
	PhaseBatchRunning          Phase = "batch_running"
	PhaseBatchSuccess          Phase = "batch_success"
	PhaseBatchAborted          Phase = "batch_aborted"
)

// Terminal reports whether no further transitions follow
func (p Phase) Terminal() bool {
	switch p {
	case PhaseIdle, PhaseSuccess, PhaseFailed, PhaseBatchSuccess, PhaseBatchAborted:
		return true
	}
	return false
}

// Status is a snapshot of the running operation
type Status struct {
	OperationID string    `json:"operationId,omitempty"`
	Operation   string    `json:"operation,omitempty"`
	Phase       Phase     `json:"phase"`
	App         string    `json:"app,omitempty"`
	Index       int       `json:"index,omitempty"`
	Total       int       `json:"total,omitempty"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// StatusCell publishes operation phases
type StatusCell = atom.Cell[*Status]

// NewStatusCell creates a cell in the idle phase
func NewStatusCell(opts ...atom.Option) *StatusCell {
	return atom.New(&Status{Phase: PhaseIdle, UpdatedAt: time.Now()}, nil, opts...)
}

// transition publishes a copy of the current status with mutate applied
func transition(cell *StatusCell, mutate func(s *Status)) {
	cell.Update(func(current *Status) *Status {
		next := Status{}
		if current != nil {
			next = *current
		}
		mutate(&next)
		next.UpdatedAt = time.Now()
		return &next
	})
}
