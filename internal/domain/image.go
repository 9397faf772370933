package domain

import "errors"

var (
	ErrImageTypeNotSupported = errors.New("image type not supported")
	ErrImageTooLarge         = errors.New("image too large")
)
