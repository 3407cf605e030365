package memory

import (
	"fmt"

	"github.com/finitefield/pos-api/internal/repositories"
)

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
)

// Error is the repositories.RepositoryError produced by the in-memory adapters.
type Error struct {
	kind     errorKind
	resource string
	id       string
	detail   string
}

var _ repositories.RepositoryError = (*Error)(nil)

func notFound(resource, id string) error {
	return &Error{kind: kindNotFound, resource: resource, id: id}
}

func conflict(resource, id, detail string) error {
	return &Error{kind: kindConflict, resource: resource, id: id, detail: detail}
}

func (e *Error) Error() string {
	switch e.kind {
	case kindNotFound:
		return fmt.Sprintf("memory: %s %q not found", e.resource, e.id)
	case kindConflict:
		return fmt.Sprintf("memory: %s %q conflict: %s", e.resource, e.id, e.detail)
	default:
		return fmt.Sprintf("memory: %s %q", e.resource, e.id)
	}
}

func (e *Error) IsNotFound() bool    { return e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return false }
