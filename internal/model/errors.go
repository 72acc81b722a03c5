package model

import "errors"

// Errors shared by the workspace, archive and job packages. The HTTP layer
// maps each of them to a distinct status code.
var (
	ErrNotFound           = errors.New("job not found")
	ErrConflict           = errors.New("job still running")
	ErrInvalidMetadata    = errors.New("invalid job metadata")
	ErrAllocationConflict = errors.New("workspace already exists")
	ErrTemplateMissing    = errors.New("workspace template missing")
	ErrMissingOutput      = errors.New("result file not found in workspace")
)
