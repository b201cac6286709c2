package errors

import (
	"errors"
	"fmt"
)

// Custom error types for the link cloaking application

// ErrLinkNotFound is returned when a slug doesn't exist in the database
var ErrLinkNotFound = errors.New("link not found")

// ErrInvalidURL is returned when the provided target URL is invalid
var ErrInvalidURL = errors.New("invalid URL format")

// ErrSlugTaken is returned when a custom slug is already in use
var ErrSlugTaken = errors.New("slug already exists")

// ErrSlugGenerationFailed is returned when we can't generate a unique slug
var ErrSlugGenerationFailed = errors.New("failed to generate unique slug")

// ErrOracleUnavailable is returned when the IP reputation lookup fails or times out
var ErrOracleUnavailable = errors.New("ip reputation oracle unavailable")

// ErrOracleRateLimited is returned when the outbound oracle budget is exhausted
var ErrOracleRateLimited = errors.New("ip reputation oracle rate limited")

// ErrCodeInvalid is returned when an extension code is unknown, expired or already consumed
var ErrCodeInvalid = errors.New("extension code invalid or already used")

// ErrLedgerQueueFull is returned when the click recorder cannot accept more events
var ErrLedgerQueueFull = errors.New("click ledger queue full")

// ErrLedgerClosed is returned when a click is submitted after the recorder stopped
var ErrLedgerClosed = errors.New("click ledger closed")

// ErrClickRecordingFailed is returned when click recording fails
type ErrClickRecordingFailed struct {
	Slug   string
	Reason string
	Err    error
}

func (e ErrClickRecordingFailed) Error() string {
	return fmt.Sprintf("failed to record click for link %s: %s", e.Slug, e.Reason)
}

func (e ErrClickRecordingFailed) Unwrap() error {
	return e.Err
}

// ErrURLCheckFailed is returned when a target URL health check fails
type ErrURLCheckFailed struct {
	URL    string
	Reason string
}

func (e ErrURLCheckFailed) Error() string {
	return fmt.Sprintf("failed to check URL %s: %s", e.URL, e.Reason)
}

// ErrConfigLoad is returned when configuration loading fails
type ErrConfigLoad struct {
	Path   string
	Reason string
}

func (e ErrConfigLoad) Error() string {
	return fmt.Sprintf("failed to load config from %s: %s", e.Path, e.Reason)
}

// ErrInvalidSlug is returned when the slug format is invalid
var ErrInvalidSlug = errors.New("invalid slug format")
