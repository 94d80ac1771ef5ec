package dto

import "github.com/pkg/errors"

var (
	// ErrNotFound returned when a connection, transaction or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict returned on duplicate allow-list entries and transaction records.
	ErrConflict = errors.New("already exists")
	// ErrInvalidConfigName returned for unrecognized setting names.
	ErrInvalidConfigName = errors.New("invalid config name")
	// ErrInvalidConfigValue returned when a value does not fit its setting.
	ErrInvalidConfigValue = errors.New("invalid config value")
	// ErrExternalAgent returned when the agent call failed or the agent is unreachable.
	ErrExternalAgent = errors.New("agent request failed")
	// ErrNotImplemented returned by placeholder operations.
	ErrNotImplemented = errors.New("not implemented")
	// ErrInvalidTransition returned when a transaction would move backwards.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidArgument returned when a required field is missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStaleRecord returned when the caller's version no longer matches the stored one.
	ErrStaleRecord = errors.New("record was modified concurrently")
)
