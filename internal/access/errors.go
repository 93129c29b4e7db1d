package access

import "errors"

var (
	ErrNotFound         = errors.New("access: not found")
	ErrPermissionDenied = errors.New("access: permission denied")
	ErrConflict         = errors.New("access: conflict")
	ErrInvalidArgument  = errors.New("access: invalid argument")
	ErrInvalidRole      = errors.New("access: invalid role")
)
