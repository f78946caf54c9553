package mnemosyne

import "errors"

var (
	ErrOutOfMemory         = errors.New("out of memory")
	ErrInvalidAlignment    = errors.New("invalid alignment")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrRegionAlreadyExists = errors.New("region already exists")
	ErrRegionNotFound      = errors.New("region not found")
	ErrInvalidSize         = errors.New("invalid size")
	ErrIsolationDisabled   = errors.New("memory isolation is disabled")
)
