// Package media acquires inbound attachments in the background: it resolves
// and downloads the binary, stores it, derives thumbnails and previews, and
// reports every status transition.
package media

import "errors"

var (
	ErrQueueFull      = errors.New("media queue is full")
	ErrStopped        = errors.New("media pipeline is stopped")
	ErrAlreadyRunning = errors.New("media pipeline is already running")
	ErrInFlight       = errors.New("media acquisition already in flight")
	ErrNotPending     = errors.New("media descriptor is already finalized")
	ErrNoSource       = errors.New("media has neither provider id nor url")
	ErrImageTooLarge  = errors.New("image dimensions exceed the decode limit")
)
