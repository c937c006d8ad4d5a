// Package docsync implements the incremental sync engine and conflict
// resolver: the component that keeps a local document cache consistent
// with a remote listing, persists version state, and resolves
// divergences under a configurable policy.
//
// The engine depends only on a small RemoteSource interface rather than
// importing the hybrid router directly. The router composes the engine,
// constructing it with an adapter over a channel, not the other way
// around, so the import edge runs router to docsync.
package docsync

import (
	"time"

	"github.com/tobsai/inksight/internal/docid"
)

// DocumentVersion is the durable per-document version record.
type DocumentVersion struct {
	Hash       string
	ModifiedAt time.Time
}

// RemoteDocument is one document as reported by a RemoteSource listing.
type RemoteDocument struct {
	ID         docid.DocumentID
	ModifiedAt time.Time
}

// RemoteSource is the listing/download surface the engine needs from
// whatever channel is currently active. Satisfied by an adapter over
// sshchannel.Channel or cloudchannel.Channel.
type RemoteSource interface {
	ListDocuments() ([]RemoteDocument, error)
	DownloadDocument(id docid.DocumentID, localDir string) ([]string, error)
}

// ChangeKind mirrors monitor.ChangeKind without importing the monitor
// package: the engine receives change events converted by its caller (the
// inksightd watch command), not from the monitor directly.
type ChangeKind int

const (
	Modified ChangeKind = iota
	Created
	Deleted
)

// ChangeEvent is a single document change to apply during IncrementalSync.
type ChangeEvent struct {
	DocumentID docid.DocumentID
	Kind       ChangeKind
	ObservedAt time.Time
}

// SyncReport is the result of a FullSync or IncrementalSync round.
// Scanned counts the documents (or events) enumerated before filtering.
type SyncReport struct {
	Synced   []docid.DocumentID
	Failed   []docid.DocumentID
	Deleted  []docid.DocumentID
	Scanned  int
	Duration time.Duration
}

// TransientSyncState is the outcome of a live SyncDocument call.
type TransientSyncState int

const (
	Synced TransientSyncState = iota
	LocalAhead
	RemoteAhead
	Conflict
)

func (s TransientSyncState) String() string {
	switch s {
	case LocalAhead:
		return "local-ahead"
	case RemoteAhead:
		return "remote-ahead"
	case Conflict:
		return "conflict"
	default:
		return "synced"
	}
}
