package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound        = errors.New("resource not found") // General not found
	ErrStoryNotFound   = errors.New("story not found")
	ErrEpisodeNotFound = errors.New("episode not found")

	// Scheduling Errors
	ErrConflict              = errors.New("operation conflicts with current state")
	ErrNoSchedulableEpisodes = errors.New("story has no schedulable episodes")
	ErrNotSerialized         = errors.New("story is not serialized")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
