package orchestrator

import (
	"fmt"
	"log/slog"

	"github.com/gdorsi/BangleApps/internal/catalog"
)

// DependencyKindType is the only supported dependency kind: any app whose
// type matches satisfies the dependency.
const DependencyKindType = "type"

// DependencyStep is one dependency that has to be installed before its dependent
type DependencyStep struct {
	Type string       `json:"type"`
	App  *catalog.App `json:"app"`
}

// Resolver matches declared dependency types against installed apps and the catalog
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a new dependency resolver
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Plan returns the dependency installs app needs, in declaration order.
// The whole declaration is checked before anything is planned, so an
// unsupported or unsatisfiable entry fails the plan before any transfer.
// When several catalog apps provide a type, the first in catalog order wins.
func (r *Resolver) Plan(app *catalog.App, installed *Installed, cat *catalog.Catalog) ([]DependencyStep, error) {
	var steps []DependencyStep

	for _, dep := range app.Dependencies {
		if dep.Kind != DependencyKindType {
			return nil, &DependencyError{App: app.ID, Type: dep.Type, Kind: dep.Kind, Err: ErrUnsupportedDependencyKind}
		}

		r.logger.Debug("searching for dependency", "app", app.ID, "type", dep.Type)

		if found, ok := installed.FindType(dep.Type); ok {
			r.logger.Debug("dependency already installed", "app", app.ID, "type", dep.Type, "provider", found.ID)
			continue
		}

		if cat == nil {
			return nil, &DependencyError{App: app.ID, Type: dep.Type, Kind: dep.Kind, Err: ErrUnsatisfiedDependency}
		}
		chosen, ok := cat.FirstOfType(dep.Type)
		if !ok {
			return nil, &DependencyError{App: app.ID, Type: dep.Type, Kind: dep.Kind, Err: ErrUnsatisfiedDependency}
		}
		steps = append(steps, DependencyStep{Type: dep.Type, App: chosen})
	}

	if len(steps) > 0 {
		r.logger.Info("dependencies not installed, scheduling installs", "app", app.ID, "plan", Describe(steps))
	}
	return steps, nil
}

// Describe renders a plan as type:provider pairs for logs
func Describe(steps []DependencyStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = fmt.Sprintf("%s:%s", s.Type, s.App.ID)
	}
	return out
}
