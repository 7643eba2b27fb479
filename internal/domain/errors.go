package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPrompt   = errors.New("invalid prompt")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrJobProcessing   = errors.New("job is actively processing")
	ErrNoGenerations   = errors.New("no generations in completed job")
	ErrExpired         = errors.New("generation expired")
)
