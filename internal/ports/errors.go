package ports

import "github.com/pkg/errors"

// Sentinel errors shared by the storage adapter and the backend.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidName   = errors.New("name cannot be empty")
	ErrLastWorkspace = errors.New("cannot delete the last workspace: at least one workspace must exist")
)
