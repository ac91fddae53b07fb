// Package cdjerr defines the error taxonomy shared by every package in the
// coordinator, so callers can use errors.Is against one fixed set of
// sentinels regardless of which component raised them.
package cdjerr

import "errors"

var (
	// NotRunning is returned by any operation that requires the coordinator
	// to be running when it is stopped.
	NotRunning = errors.New("cdj: not running")

	// BadArgument is returned for invalid device numbers, nil slots, and
	// similar caller mistakes.
	BadArgument = errors.New("cdj: bad argument")

	// IO wraps an underlying stream or network failure. It is always
	// logged; it is surfaced to callers of attach/create_archive and
	// request_metadata, and swallowed (turned into a nil result) for
	// background fetches driven by the event pipeline.
	IO = errors.New("cdj: io failure")

	// BadFormat is returned when an archive is missing its version entry
	// or carries a version tag that does not match.
	BadFormat = errors.New("cdj: bad archive format")

	// UnexpectedItem is returned by the archive builder when a track
	// listing entry is neither a TRACK_LIST_ENTRY nor a PLAYLIST_ENTRY
	// message.
	UnexpectedItem = errors.New("cdj: unexpected item")

	// Truncated is returned when a stream ends before a complete message.
	// Treated as absent when reading archives, fatal when building one.
	Truncated = errors.New("cdj: truncated stream")

	// Corrupt is returned when an archive entry cannot be parsed as a
	// coherent sequence of messages.
	Corrupt = errors.New("cdj: corrupt entry")

	// Cancelled is returned when a progress listener declines to continue.
	Cancelled = errors.New("cdj: cancelled")
)
