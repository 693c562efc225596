package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnection means the installed-app list could not be read from the device
	ErrConnection = errors.New("device connection failed")

	// ErrUnsupportedDependencyKind means a dependency is declared with a kind other than "type"
	ErrUnsupportedDependencyKind = errors.New("unsupported dependency kind")

	// ErrUnsatisfiedDependency means no installed or catalog app provides a required type
	ErrUnsatisfiedDependency = errors.New("unsatisfied dependency")

	// ErrTransfer means the device rejected an upload or removal
	ErrTransfer = errors.New("transfer failed")

	// ErrCatalogResolution means a batch named an app the catalog does not have
	ErrCatalogResolution = errors.New("app not found in catalog")

	// ErrNotInstalled means an update or removal targeted an app the device does not have
	ErrNotInstalled = errors.New("app not installed")

	// ErrDefaultsUnavailable means the default app list could not be read
	ErrDefaultsUnavailable = errors.New("could not fetch the default apps")
)

// DependencyError describes a dependency that cannot be resolved
type DependencyError struct {
	App  string
	Type string
	Kind string
	Err  error
}

func (e *DependencyError) Error() string {
	if errors.Is(e.Err, ErrUnsupportedDependencyKind) {
		return fmt.Sprintf("%s: dependency '%s' has kind '%s', only supporting dependencies on app types right now", e.App, e.Type, e.Kind)
	}
	return fmt.Sprintf("dependency of '%s' listed, but nothing satisfies it", e.Type)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// TransferError is a failed device write
type TransferError struct {
	Op  string
	App string
	Err error
}

func (e *TransferError) Error() string {
	if e.App == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s of %s failed: %v", e.Op, e.App, e.Err)
}

func (e *TransferError) Is(target error) bool { return target == ErrTransfer }

func (e *TransferError) Unwrap() error { return e.Err }

// CatalogResolutionError lists the ids a batch could not resolve
type CatalogResolutionError struct {
	Missing []string
}

func (e *CatalogResolutionError) Error() string {
	return fmt.Sprintf("not all apps found: %s", strings.Join(e.Missing, ", "))
}

func (e *CatalogResolutionError) Is(target error) bool { return target == ErrCatalogResolution }
