package domain

import "errors"

var ErrNotFound = errors.New("not found")

var (
	ErrMetadataTimeout    = errors.New("timeout waiting for torrent metadata")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrPersistenceWrite   = errors.New("persistence write failed")
	ErrInvalidRange       = errors.New("invalid range")
	ErrNotConfigured      = errors.New("not configured")
	ErrInvalidMagnet      = errors.New("invalid magnet uri")
)
