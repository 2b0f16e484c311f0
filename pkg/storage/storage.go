// Package storage persists transactions, settings, the contract snapshot
// and wallet records in PebbleDB.
package storage

import (
	"errors"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// Config holds storage configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB (default: 64)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 500)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 16)
	WriteBuffer int

	// ReadOnly opens the database in read-only mode
	ReadOnly bool
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		Cache:        64,
		MaxOpenFiles: 500,
		WriteBuffer:  16,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	return nil
}
