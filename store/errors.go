package store

import "errors"

var (
	// ErrTrackNotFound indicates the track does not exist.
	ErrTrackNotFound = errors.New("track not found")

	// ErrTrackExists indicates a track with the same hash already exists.
	ErrTrackExists = errors.New("track already exists")

	// ErrLeafNotFound indicates the track has no record for the leaf.
	ErrLeafNotFound = errors.New("leaf not found")

	// ErrPayloadNotFound indicates no payload is stored under the leaf hash.
	ErrPayloadNotFound = errors.New("leaf payload not found")

	// ErrClaimConflict indicates the leaf record is held by someone else.
	ErrClaimConflict = errors.New("leaf claim conflict")
)
