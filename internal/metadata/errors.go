package metadata

import "errors"

var (
	ErrNotFound               = errors.New("object metadata not found")
	ErrAlreadyExists          = errors.New("object metadata already exists")
	ErrVersionsExist          = errors.New("object already has versions")
	ErrRollbackTargetNotFound = errors.New("rollback target version not found")
	ErrInvalidAccessLevel     = errors.New("invalid access level")
)
