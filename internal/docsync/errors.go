package docsync

import (
	"errors"

	"github.com/tobsai/inksight/internal/docid"
)

// Sentinel errors for the sync engine.
var (
	// ErrListingFailed is returned when the remote source cannot enumerate
	// documents; it aborts the whole round rather than a single document.
	ErrListingFailed = errors.New("docsync: remote listing failed")
	// ErrNotOnDevice is returned by SyncDocument when the requested id is
	// absent from the device listing.
	ErrNotOnDevice = errors.New("docsync: document not present on device")
)

// DownloadError is a per-document failure. Batch operations record it in
// SyncReport.Failed and continue; it never aborts the parent sync.
type DownloadError struct {
	ID    docid.DocumentID
	Cause error
}

func (e *DownloadError) Error() string {
	return "docsync: downloading " + e.ID.String() + ": " + e.Cause.Error()
}

func (e *DownloadError) Unwrap() error { return e.Cause }

// ListingError wraps ErrListingFailed with the underlying channel failure.
type ListingError struct {
	Cause error
}

func (e *ListingError) Error() string {
	return "docsync: remote listing failed: " + e.Cause.Error()
}

func (e *ListingError) Unwrap() error { return ErrListingFailed }
