package backend

import "errors"

var (
	// ErrAccessDenied is returned by CheckAccess when the caller did not
	// ask for a result.
	ErrAccessDenied = errors.New("access denied")
	// ErrExists is returned when a create would overwrite without
	// permission to do so.
	ErrExists = errors.New("already exists")
)
