package store

import "errors"

var (
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
	ErrBadFilename  = errors.New("filename must not contain path separators")
)
