package service

import "errors"

var (
	ErrNotFound      = errors.New("Log entry not found.")
	ErrEmptyChipID   = errors.New("chip_id is required")
	ErrEmptyName     = errors.New("name is required")
	ErrInvalidRecord = errors.New("invalid log record")
)
