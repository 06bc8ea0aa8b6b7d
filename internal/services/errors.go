package services

import "errors"

// ErrInvalidInput marks validation failures. Handlers map it to 400.
var ErrInvalidInput = errors.New("invalid input")
