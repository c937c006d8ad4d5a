package docsync_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobsai/inksight/internal/docid"
	"github.com/tobsai/inksight/internal/docsync"
)

var (
	docA = docid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-eeeeeeeeeeee")
	docB = docid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-ffffffffffff")

	mtimeA = time.UnixMilli(1_700_000_000_000).UTC()
	mtimeB = time.UnixMilli(1_700_001_000_000).UTC()
)

// fakeSource is a hand-rolled RemoteSource double: DownloadDocument writes
// deterministic metadata/content files into localDir so hash invariants
// can be checked against real bytes.
type fakeSource struct {
	docs      []docsync.RemoteDocument
	failIDs   map[string]bool
	downloads []string
}

func (f *fakeSource) ListDocuments() ([]docsync.RemoteDocument, error) {
	return f.docs, nil
}

func (f *fakeSource) DownloadDocument(id docid.DocumentID, localDir string) ([]string, error) {
	f.downloads = append(f.downloads, id.String())

	if f.failIDs[id.String()] {
		return nil, errors.New("transfer interrupted")
	}

	meta := filepath.Join(localDir, id.String()+".metadata")
	content := filepath.Join(localDir, id.String()+".content")

	if err := os.WriteFile(meta, metaBytes(id), 0o644); err != nil {
		return nil, err
	}

	if err := os.WriteFile(content, contentBytes(id), 0o644); err != nil {
		return nil, err
	}

	return []string{meta, content}, nil
}

func metaBytes(id docid.DocumentID) []byte    { return []byte("meta-" + id.String()) }
func contentBytes(id docid.DocumentID) []byte { return []byte("content-" + id.String()) }

func canonicalHash(id docid.DocumentID) string {
	sum := sha256.New()
	sum.Write(metaBytes(id))
	sum.Write(contentBytes(id))

	return hex.EncodeToString(sum.Sum(nil))
}

func newTestEngine(t *testing.T, source docsync.RemoteSource) (*docsync.Engine, string) {
	t.Helper()

	dir := t.TempDir()
	engine := docsync.NewEngine(source, docsync.Config{LocalCacheDir: dir})
	require.NoError(t, engine.Initialize())

	return engine, dir
}

func TestFullSyncColdTwoDocuments(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{
		{ID: docA, ModifiedAt: mtimeA},
		{ID: docB, ModifiedAt: mtimeB},
	}}

	engine, dir := newTestEngine(t, source)

	report, err := engine.FullSync()
	require.NoError(t, err)

	assert.Equal(t, []docid.DocumentID{docA, docB}, report.Synced)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, 2, report.Scanned)

	state := engine.GetSyncState()
	require.Len(t, state.DocumentVersions, 2)
	assert.Equal(t, canonicalHash(docA), state.DocumentVersions[docA].Hash)
	assert.Equal(t, canonicalHash(docB), state.DocumentVersions[docB].Hash)
	assert.True(t, state.DocumentVersions[docA].ModifiedAt.Equal(mtimeA))
	assert.True(t, state.DocumentVersions[docB].ModifiedAt.Equal(mtimeB))

	_, err = os.Stat(filepath.Join(dir, docsync.StateFileName))
	assert.NoError(t, err)
}

func TestFullSyncIsIdempotentOnUnchangedDevice(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{
		{ID: docA, ModifiedAt: mtimeA},
		{ID: docB, ModifiedAt: mtimeB},
	}}

	engine, _ := newTestEngine(t, source)

	_, err := engine.FullSync()
	require.NoError(t, err)

	downloadsAfterFirst := len(source.downloads)

	report, err := engine.FullSync()
	require.NoError(t, err)

	assert.Empty(t, report.Synced)
	assert.Empty(t, report.Deleted)
	assert.Len(t, source.downloads, downloadsAfterFirst) // no new downloads
}

func TestFullSyncDetectsRemoteAhead(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}}}
	engine, _ := newTestEngine(t, source)

	_, err := engine.FullSync()
	require.NoError(t, err)

	newer := time.UnixMilli(1_700_999_999_000).UTC()
	source.docs[0].ModifiedAt = newer
	source.downloads = nil

	report, err := engine.FullSync()
	require.NoError(t, err)

	assert.Equal(t, []docid.DocumentID{docA}, report.Synced)
	assert.Len(t, source.downloads, 1)
	assert.True(t, engine.GetSyncState().DocumentVersions[docA].ModifiedAt.Equal(newer))
}

func TestFullSyncPartialFailureIsIsolated(t *testing.T) {
	source := &fakeSource{
		docs: []docsync.RemoteDocument{
			{ID: docA, ModifiedAt: mtimeA},
			{ID: docB, ModifiedAt: mtimeB},
		},
		failIDs: map[string]bool{docA.String(): true},
	}

	engine, dir := newTestEngine(t, source)

	report, err := engine.FullSync()
	require.NoError(t, err)

	assert.Equal(t, []docid.DocumentID{docB}, report.Synced)
	assert.Equal(t, []docid.DocumentID{docA}, report.Failed)

	state := engine.GetSyncState()
	assert.NotContains(t, state.DocumentVersions, docA)
	assert.Contains(t, state.DocumentVersions, docB)

	_, err = os.Stat(filepath.Join(dir, docsync.StateFileName))
	assert.NoError(t, err)
}

func TestFullSyncRemovesDocumentsGoneFromDevice(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{
		{ID: docA, ModifiedAt: mtimeA},
		{ID: docB, ModifiedAt: mtimeB},
	}}

	engine, _ := newTestEngine(t, source)

	_, err := engine.FullSync()
	require.NoError(t, err)

	source.docs = source.docs[:1] // B vanishes

	report, err := engine.FullSync()
	require.NoError(t, err)

	assert.Equal(t, []docid.DocumentID{docB}, report.Deleted)
	assert.NotContains(t, engine.GetSyncState().DocumentVersions, docB)
}

func TestIncrementalSyncAppliesCreatedEvent(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}}}
	engine, _ := newTestEngine(t, source)

	report, err := engine.IncrementalSync([]docsync.ChangeEvent{
		{DocumentID: docA, Kind: docsync.Created, ObservedAt: mtimeA},
	})
	require.NoError(t, err)

	assert.Equal(t, []docid.DocumentID{docA}, report.Synced)
	assert.True(t, engine.GetSyncState().DocumentVersions[docA].ModifiedAt.Equal(mtimeA))
}

func TestIncrementalSyncEmptyIsNoOp(t *testing.T) {
	source := &fakeSource{}
	engine, _ := newTestEngine(t, source)

	report, err := engine.IncrementalSync(nil)
	require.NoError(t, err)

	assert.Empty(t, report.Synced)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Deleted)
	assert.Empty(t, source.downloads)
}

func TestIncrementalSyncDeleteUnknownIDIsNoOp(t *testing.T) {
	source := &fakeSource{}
	engine, _ := newTestEngine(t, source)

	report, err := engine.IncrementalSync([]docsync.ChangeEvent{
		{DocumentID: docA, Kind: docsync.Deleted, ObservedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	assert.Empty(t, report.Deleted)
}

func TestIncrementalSyncDownloadFailureDoesNotTouchState(t *testing.T) {
	source := &fakeSource{
		docs:    []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}},
		failIDs: map[string]bool{docA.String(): true},
	}
	engine, _ := newTestEngine(t, source)

	report, err := engine.IncrementalSync([]docsync.ChangeEvent{
		{DocumentID: docA, Kind: docsync.Modified, ObservedAt: mtimeA},
	})
	require.NoError(t, err)

	assert.Equal(t, []docid.DocumentID{docA}, report.Failed)
	assert.NotContains(t, engine.GetSyncState().DocumentVersions, docA)
}

func TestLiveSyncThenDeletionEvent(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}}}
	engine, _ := newTestEngine(t, source)

	status, err := engine.SyncDocument(docA)
	require.NoError(t, err)
	assert.Equal(t, docsync.Synced, status)
	assert.Contains(t, engine.GetSyncState().DocumentVersions, docA)

	_, err = engine.IncrementalSync([]docsync.ChangeEvent{
		{DocumentID: docA, Kind: docsync.Deleted, ObservedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	assert.NotContains(t, engine.GetSyncState().DocumentVersions, docA)
}

func TestSyncDocumentEqualMtimesNeedsNoIO(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}}}
	engine, dir := newTestEngine(t, source)

	_, err := engine.SyncDocument(docA)
	require.NoError(t, err)

	// Align the local replica's mtime with the device's.
	meta := filepath.Join(dir, docA.String()+".metadata")
	require.NoError(t, os.Chtimes(meta, mtimeA, mtimeA))

	source.downloads = nil

	status, err := engine.SyncDocument(docA)
	require.NoError(t, err)
	assert.Equal(t, docsync.Synced, status)
	assert.Empty(t, source.downloads)
}

func TestSyncDocumentLocalAhead(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}}}
	engine, dir := newTestEngine(t, source)

	_, err := engine.SyncDocument(docA)
	require.NoError(t, err)

	ahead := mtimeA.Add(time.Hour)
	meta := filepath.Join(dir, docA.String()+".metadata")
	require.NoError(t, os.Chtimes(meta, ahead, ahead))

	// Keep the device mtime equal to the recorded one so only the local
	// replica is ahead.
	source.docs[0].ModifiedAt = mtimeA

	status, err := engine.SyncDocument(docA)
	require.NoError(t, err)
	assert.Equal(t, docsync.LocalAhead, status)
}

func TestSyncDocumentUnknownOnDevice(t *testing.T) {
	source := &fakeSource{}
	engine, _ := newTestEngine(t, source)

	_, err := engine.SyncDocument(docA)
	assert.ErrorIs(t, err, docsync.ErrNotOnDevice)
}

func TestGetSyncStateIsDeepCopy(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}}}
	engine, _ := newTestEngine(t, source)

	_, err := engine.FullSync()
	require.NoError(t, err)

	mutated := engine.GetSyncState()
	mutated.DocumentVersions[docA] = docsync.DocumentVersion{Hash: "mutated"}

	assert.Equal(t, canonicalHash(docA), engine.GetSyncState().DocumentVersions[docA].Hash)
}

func TestInitializeSurvivesCorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, docsync.StateFileName), []byte("garbage"), 0o644))

	engine := docsync.NewEngine(&fakeSource{}, docsync.Config{LocalCacheDir: dir})
	require.NoError(t, engine.Initialize())
	assert.Empty(t, engine.GetSyncState().DocumentVersions)
}

func TestStatePersistsAcrossEngines(t *testing.T) {
	source := &fakeSource{docs: []docsync.RemoteDocument{{ID: docA, ModifiedAt: mtimeA}}}
	engine, dir := newTestEngine(t, source)

	_, err := engine.FullSync()
	require.NoError(t, err)

	reopened := docsync.NewEngine(source, docsync.Config{LocalCacheDir: dir})
	require.NoError(t, reopened.Initialize())

	state := reopened.GetSyncState()
	require.Contains(t, state.DocumentVersions, docA)
	assert.Equal(t, canonicalHash(docA), state.DocumentVersions[docA].Hash)
	assert.True(t, state.DocumentVersions[docA].ModifiedAt.Equal(mtimeA))
}
