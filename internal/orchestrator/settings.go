package orchestrator

import (
	"log/slog"

	"github.com/gdorsi/BangleApps/internal/atom"
)

// PretokeniseCell holds the upload preference for tokenising JavaScript
type PretokeniseCell = atom.Cell[bool]

// NewPretokeniseCell creates the setting. The effect records every value the
// setting takes, including the initial one.
func NewPretokeniseCell(initial bool, logger *slog.Logger, opts ...atom.Option) *PretokeniseCell {
	return atom.New(initial, func(enabled bool) func() {
		logger.Info("pretokenise setting", "enabled", enabled)
		return nil
	}, opts...)
}
