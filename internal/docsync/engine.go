package docsync

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tobsai/inksight/internal/docid"
)

// Config configures an Engine.
type Config struct {
	// LocalCacheDir is the directory holding the local replica and the
	// persisted sync-state file. Required.
	LocalCacheDir string
	// Strategy selects conflict resolution; zero value is DeviceWins.
	Strategy ConflictStrategy
	// Manual is consulted when Strategy is Manual; nil falls through to
	// NewestWins.
	Manual ManualResolver
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// Engine is the Incremental Sync Engine: it tracks per-document versions
// of the local replica, applies full and incremental sync rounds through
// a RemoteSource, and persists its state after every successful round.
//
// All state mutation is serialized behind one mutex; GetSyncState hands
// out deep copies, so callers can never alias the internal map.
type Engine struct {
	source RemoteSource
	cfg    Config

	mu    sync.Mutex
	state SyncState

	now func() time.Time
}

// NewEngine creates an Engine over the given source. Initialize must be
// called before any sync operation.
func NewEngine(source RemoteSource, cfg Config) *Engine {
	return &Engine{
		source: source,
		cfg:    cfg.withDefaults(),
		state:  newEmptyState(cfg.LocalCacheDir),
		now:    time.Now,
	}
}

// Initialize ensures the cache directory exists and loads persisted state.
// A missing or corrupt state file starts the engine from empty state — the
// corruption is logged and silently recovered, never surfaced.
func (e *Engine) Initialize() error {
	if err := os.MkdirAll(e.cfg.LocalCacheDir, 0o755); err != nil {
		return fmt.Errorf("docsync: creating cache directory: %w", err)
	}

	state, corrupted := loadState(e.cfg.LocalCacheDir)
	if corrupted {
		e.cfg.Logger.Warn("docsync: state file corrupt, starting from empty state",
			slog.String("dir", e.cfg.LocalCacheDir))
	}

	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	e.cfg.Logger.Info("docsync: initialized",
		slog.String("dir", e.cfg.LocalCacheDir),
		slog.Int("documents", len(state.DocumentVersions)))

	return nil
}

// GetSyncState returns a deep copy of the current state.
func (e *Engine) GetSyncState() SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Clone()
}

// FullSync reconciles the whole device listing against local state:
// unknown documents are downloaded, known documents are skipped when the
// device mtime matches the recorded one and re-downloaded otherwise, and
// state entries absent from the listing are removed. Per-document faults
// land in the report's Failed list and never abort the round.
func (e *Engine) FullSync() (SyncReport, error) {
	start := e.now()

	docs, err := e.source.ListDocuments()
	if err != nil {
		return SyncReport{}, &ListingError{Cause: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	report := SyncReport{Scanned: len(docs)}
	present := make(map[docid.DocumentID]bool, len(docs))

	for _, doc := range docs {
		present[doc.ID] = true

		if v, ok := e.state.DocumentVersions[doc.ID]; ok && v.ModifiedAt.Equal(doc.ModifiedAt) {
			continue
		}

		if err := e.downloadAndRecordLocked(doc.ID, doc.ModifiedAt); err != nil {
			e.cfg.Logger.Warn("docsync: document sync failed",
				slog.String("doc", doc.ID.String()), slog.String("error", err.Error()))
			report.Failed = append(report.Failed, doc.ID)

			continue
		}

		report.Synced = append(report.Synced, doc.ID)
	}

	for id := range e.state.DocumentVersions {
		if !present[id] {
			delete(e.state.DocumentVersions, id)
			report.Deleted = append(report.Deleted, id)
		}
	}

	sortIDs(report.Deleted)

	e.state.LastSyncAt = e.now().UTC()
	e.persistLocked()

	report.Duration = e.now().Sub(start)

	e.cfg.Logger.Info("docsync: full sync finished",
		slog.Int("synced", len(report.Synced)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("deleted", len(report.Deleted)),
		slog.Duration("duration", report.Duration))

	return report, nil
}

// IncrementalSync applies change events in arrival order. Created and
// Modified events download and re-record the document; Deleted events
// drop the state entry when one exists and are a no-op otherwise. An
// empty event list is a valid no-op call.
func (e *Engine) IncrementalSync(events []ChangeEvent) (SyncReport, error) {
	start := e.now()

	if len(events) == 0 {
		return SyncReport{}, nil
	}

	// One listing per round supplies device-reported mtimes for the
	// recorded versions; a document missing from it (or a failed listing)
	// falls back to the event's observation time.
	var remoteMtimes map[docid.DocumentID]time.Time

	lookupMtime := func(ev ChangeEvent) time.Time {
		if remoteMtimes == nil {
			remoteMtimes = make(map[docid.DocumentID]time.Time)

			if docs, err := e.source.ListDocuments(); err == nil {
				for _, doc := range docs {
					remoteMtimes[doc.ID] = doc.ModifiedAt
				}
			}
		}

		if t, ok := remoteMtimes[ev.DocumentID]; ok {
			return t
		}

		return ev.ObservedAt
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	report := SyncReport{Scanned: len(events)}

	for _, ev := range events {
		switch ev.Kind {
		case Created, Modified:
			if err := e.downloadAndRecordLocked(ev.DocumentID, lookupMtime(ev)); err != nil {
				e.cfg.Logger.Warn("docsync: change application failed",
					slog.String("doc", ev.DocumentID.String()), slog.String("error", err.Error()))
				report.Failed = append(report.Failed, ev.DocumentID)

				continue
			}

			report.Synced = append(report.Synced, ev.DocumentID)
		case Deleted:
			if _, ok := e.state.DocumentVersions[ev.DocumentID]; !ok {
				continue
			}

			delete(e.state.DocumentVersions, ev.DocumentID)
			report.Deleted = append(report.Deleted, ev.DocumentID)
		}
	}

	e.state.LastSyncAt = e.now().UTC()
	e.persistLocked()

	report.Duration = e.now().Sub(start)

	return report, nil
}

// SyncDocument is the live per-document operation driven by the File
// Monitor hook. It compares the recorded mtime against the device's
// current mtime and the local replica's mtime:
//
//   - no local file: download, record, Synced
//   - local == remote: Synced, no I/O
//   - local > remote: LocalAhead, handed to the Conflict Resolver
//   - local < remote: download, record, Synced
//   - recorded differs from both: Conflict, handed to the Conflict Resolver
func (e *Engine) SyncDocument(id docid.DocumentID) (TransientSyncState, error) {
	docs, err := e.source.ListDocuments()
	if err != nil {
		return Synced, &ListingError{Cause: err}
	}

	var remote *RemoteDocument

	for i := range docs {
		if docs[i].ID.Equal(id) {
			remote = &docs[i]
			break
		}
	}

	if remote == nil {
		return Synced, ErrNotOnDevice
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	info, statErr := os.Stat(filepath.Join(e.cfg.LocalCacheDir, id.String()+".metadata"))
	if statErr != nil {
		if err := e.downloadAndRecordLocked(id, remote.ModifiedAt); err != nil {
			return RemoteAhead, err
		}

		e.persistLocked()

		return Synced, nil
	}

	localMtime := info.ModTime().UTC()
	recorded, hasRecorded := e.state.DocumentVersions[id]

	switch {
	case hasRecorded && !recorded.ModifiedAt.Equal(remote.ModifiedAt) && !recorded.ModifiedAt.Equal(localMtime):
		return Conflict, e.resolveDivergenceLocked(id, remote.ModifiedAt, localMtime, recorded)
	case localMtime.Equal(remote.ModifiedAt):
		return Synced, nil
	case localMtime.After(remote.ModifiedAt):
		return LocalAhead, e.resolveDivergenceLocked(id, remote.ModifiedAt, localMtime, recorded)
	default:
		if err := e.downloadAndRecordLocked(id, remote.ModifiedAt); err != nil {
			return RemoteAhead, err
		}

		e.persistLocked()

		return Synced, nil
	}
}

// resolveDivergenceLocked hands a divergence to the Conflict Resolver and
// applies its decision: UseDevice re-downloads, UseLocal and NoConflict
// leave the replica untouched.
func (e *Engine) resolveDivergenceLocked(id docid.DocumentID, remoteMtime, localMtime time.Time, recorded DocumentVersion) error {
	localHash, err := computeHash(e.cfg.LocalCacheDir, id)
	if err != nil {
		localHash = recorded.Hash
	}

	decision := Resolve(
		DocumentVersion{ModifiedAt: remoteMtime},
		DocumentVersion{Hash: localHash, ModifiedAt: localMtime},
		e.cfg.Strategy,
		e.cfg.Manual,
	)

	e.cfg.Logger.Info("docsync: divergence resolved",
		slog.String("doc", id.String()),
		slog.String("strategy", e.cfg.Strategy.String()),
		slog.String("decision", decision.String()))

	if decision != UseDevice {
		return nil
	}

	if err := e.downloadAndRecordLocked(id, remoteMtime); err != nil {
		return err
	}

	e.persistLocked()

	return nil
}

// downloadAndRecordLocked downloads one document into the cache dir,
// recomputes the canonical hash from the downloaded local copy, and
// records the new version. State is untouched on failure.
func (e *Engine) downloadAndRecordLocked(id docid.DocumentID, modifiedAt time.Time) error {
	if _, err := e.source.DownloadDocument(id, e.cfg.LocalCacheDir); err != nil {
		return &DownloadError{ID: id, Cause: err}
	}

	hash, err := computeHash(e.cfg.LocalCacheDir, id)
	if err != nil {
		return &DownloadError{ID: id, Cause: err}
	}

	e.state.DocumentVersions[id] = DocumentVersion{Hash: hash, ModifiedAt: modifiedAt.UTC()}

	return nil
}

// persistLocked writes the state file. A write failure is logged but does
// not fail the round — the in-memory state stays authoritative and the
// next round retries.
func (e *Engine) persistLocked() {
	if err := saveState(e.state); err != nil {
		e.cfg.Logger.Warn("docsync: state persist failed, in-memory state remains authoritative",
			slog.String("error", err.Error()))
	}
}

func sortIDs(ids []docid.DocumentID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
