package docsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tobsai/inksight/internal/docid"
)

// StateFileName is the well-known persisted state file within a
// localCacheDir.
const StateFileName = ".sync-state.json"

// currentSchemaVersion is written on every persist; readers tolerate its
// absence (older or foreign writers) and default it to 1. The field is
// additive, never required for interoperability.
const currentSchemaVersion = 1

// SyncState is the durable per-document version record.
type SyncState struct {
	LastSyncAt       time.Time
	LocalCacheDir    string
	DocumentVersions map[docid.DocumentID]DocumentVersion
	SchemaVersion    int
}

func newEmptyState(localCacheDir string) SyncState {
	return SyncState{
		LocalCacheDir:    localCacheDir,
		DocumentVersions: make(map[docid.DocumentID]DocumentVersion),
		SchemaVersion:    currentSchemaVersion,
	}
}

// Clone returns a deep copy, so callers never alias the engine's
// internal map.
func (s SyncState) Clone() SyncState {
	versions := make(map[docid.DocumentID]DocumentVersion, len(s.DocumentVersions))
	for k, v := range s.DocumentVersions {
		versions[k] = v
	}

	return SyncState{
		LastSyncAt:       s.LastSyncAt,
		LocalCacheDir:    s.LocalCacheDir,
		DocumentVersions: versions,
		SchemaVersion:    s.SchemaVersion,
	}
}

// wireVersion is the on-disk representation of one DocumentVersion: hash
// as lowercase hex, modifiedAt as an ISO-8601 UTC string.
type wireVersion struct {
	Hash       string    `json:"hash"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// wireState is the exact on-disk JSON shape: documentVersions is an
// array of [id, version] pairs, not a JSON object, so that entry order
// is preserved byte-for-byte across writers.
type wireState struct {
	LastSyncAt       time.Time         `json:"lastSyncAt"`
	LocalCacheDir    string            `json:"localCacheDir"`
	DocumentVersions []json.RawMessage `json:"documentVersions"`
	SchemaVersion    int               `json:"schemaVersion,omitempty"`
}

// MarshalJSON implements the stable wire shape.
func (s SyncState) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(s.DocumentVersions))
	for id := range s.DocumentVersions {
		ids = append(ids, id.String())
	}

	sort.Strings(ids)

	pairs := make([]json.RawMessage, 0, len(ids))

	for _, idStr := range ids {
		id := docid.MustParse(idStr)
		v := s.DocumentVersions[id]

		pair, err := json.Marshal([]any{
			idStr,
			wireVersion{Hash: v.Hash, ModifiedAt: v.ModifiedAt.UTC()},
		})
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, pair)
	}

	return json.Marshal(wireState{
		LastSyncAt:       s.LastSyncAt.UTC(),
		LocalCacheDir:    s.LocalCacheDir,
		DocumentVersions: pairs,
		SchemaVersion:    s.SchemaVersion,
	})
}

// UnmarshalJSON parses the wire shape back into a SyncState.
func (s *SyncState) UnmarshalJSON(data []byte) error {
	var wire wireState
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	versions := make(map[docid.DocumentID]DocumentVersion, len(wire.DocumentVersions))

	for _, raw := range wire.DocumentVersions {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return fmt.Errorf("docsync: malformed documentVersions entry: %w", err)
		}

		var idStr string
		if err := json.Unmarshal(pair[0], &idStr); err != nil {
			return fmt.Errorf("docsync: malformed document id: %w", err)
		}

		id, err := docid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("docsync: malformed document id: %w", err)
		}

		var wv wireVersion
		if err := json.Unmarshal(pair[1], &wv); err != nil {
			return fmt.Errorf("docsync: malformed document version: %w", err)
		}

		versions[id] = DocumentVersion{Hash: wv.Hash, ModifiedAt: wv.ModifiedAt.UTC()}
	}

	schemaVersion := wire.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	*s = SyncState{
		LastSyncAt:       wire.LastSyncAt.UTC(),
		LocalCacheDir:    wire.LocalCacheDir,
		DocumentVersions: versions,
		SchemaVersion:    schemaVersion,
	}

	return nil
}

// loadState reads <localCacheDir>/.sync-state.json. A missing or
// malformed file is treated as empty state and never returns an error —
// state corruption is silently recovered. The second
// return is true when an existing file had to be discarded, so the
// engine can log the recovery.
func loadState(localCacheDir string) (SyncState, bool) {
	empty := newEmptyState(localCacheDir)

	data, err := os.ReadFile(filepath.Join(localCacheDir, StateFileName))
	if err != nil {
		return empty, false
	}

	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return empty, true
	}

	if state.DocumentVersions == nil {
		state.DocumentVersions = make(map[docid.DocumentID]DocumentVersion)
	}

	state.LocalCacheDir = localCacheDir

	return state, false
}

// saveState persists state atomically: write to "<path>.tmp" then rename,
// so any readable state file is internally consistent.
func saveState(state SyncState) error {
	path := filepath.Join(state.LocalCacheDir, StateFileName)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("docsync: encoding state: %w", err)
	}

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("docsync: writing temp state file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("docsync: renaming temp state file: %w", err)
	}

	return nil
}
