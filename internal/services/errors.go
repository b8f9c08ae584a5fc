package services

import "errors"

var (
	// ErrPlateInvalidInput marks caller input the renderer cannot use.
	ErrPlateInvalidInput = errors.New("plate: invalid input")
	// ErrNoTemplateForKey is returned when neither the qualified nor the bare template exists.
	ErrNoTemplateForKey = errors.New("plate: no template for key")
	ErrUploadFailure    = errors.New("plate: image upload failed")
	ErrPersistFailure   = errors.New("plate: image location persist failed")
	// ErrPlateNotReady means fonts are still loading or the caller gave up waiting.
	ErrPlateNotReady = errors.New("plate: renderer not ready")
)
