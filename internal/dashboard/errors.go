package dashboard

import "errors"

var (
	ErrBusy           = errors.New("another operation on this key is still pending")
	ErrRecordNotFound = errors.New("log record not found")
)
