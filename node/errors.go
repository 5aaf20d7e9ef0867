package node

import "errors"

var (
	ErrHostRequired      = errors.New("host is required")
	ErrPortRequired      = errors.New("port is required")
	ErrInvalidPort       = errors.New("port must be a number between 1 and 65535")
	ErrInvalidDropRate   = errors.New("drop rate must be between 0.0 and 1.0")
	ErrInvalidMode       = errors.New("unknown failure detection mode")
	ErrStoreRootRequired = errors.New("store root directory is required")
	ErrAlreadyLeft       = errors.New("node has left the cluster")
)
