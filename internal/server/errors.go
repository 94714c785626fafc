package server

import "github.com/cockroachdb/errors"

var (
	// ErrRegistryClosed is returned when the registry no longer accepts requests.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrMissingArgument marks a command that requires an argument but got none.
	ErrMissingArgument = errors.New("missing argument")

	// ErrUnknownCommand marks a slash command the parser does not recognize.
	ErrUnknownCommand = errors.New("unknown command")
)
