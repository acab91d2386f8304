package models

import (
	"errors"
	"fmt"
)

// Failure sentinels shared across the repository, download, and playback
// layers. Callers branch with errors.Is; user-facing strings are derived from
// these at the surface that reports them.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrServer             = errors.New("server error")
	ErrNoPlayableSource   = errors.New("no playable source for episode")
	ErrCapacityReached    = errors.New("download capacity reached")
	ErrAlreadyDownloaded  = errors.New("episode already downloaded")
	ErrFileIO             = errors.New("file operation failed")
)

// CodedError is a server-reported failure with an application error code.
type CodedError struct {
	Code    int
	Message string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Message)
}

// PlaybackError wraps a failure reported by one of the media players.
type PlaybackError struct {
	Cause error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback error: %v", e.Cause)
}

func (e *PlaybackError) Unwrap() error { return e.Cause }
