package transform_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobsai/inksight/internal/docid"
	"github.com/tobsai/inksight/internal/docsync"
	"github.com/tobsai/inksight/internal/transform"
)

var docA = docid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-eeeeeeeeeeee")

type fakeSyncer struct {
	err   error
	calls int
}

func (f *fakeSyncer) SyncDocument(id docid.DocumentID) (docsync.TransientSyncState, error) {
	f.calls++
	return docsync.Synced, f.err
}

type fakeExecutor struct {
	result  *transform.Result
	err     error
	lastReq transform.Request
}

func (f *fakeExecutor) Execute(ctx context.Context, req transform.Request) (*transform.Result, error) {
	f.lastReq = req

	if f.err != nil {
		return nil, f.err
	}

	return f.result, nil
}

func TestRunSyncsThenWritesOutput(t *testing.T) {
	syncer := &fakeSyncer{}
	executor := &fakeExecutor{result: &transform.Result{Bytes: []byte("# Summary"), Extension: "md"}}
	cacheDir := t.TempDir()
	outDir := t.TempDir()

	c := transform.New(syncer, executor, cacheDir, nil)

	path, err := c.Run(context.Background(), docA, transform.Summary, outDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, docA.String()+"-summary.md"), path)
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, cacheDir, executor.lastReq.LocalDir)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Summary", string(data))
}

func TestRunSyncFailureIsNonFatal(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("device unreachable")}
	executor := &fakeExecutor{result: &transform.Result{Bytes: []byte("{}"), Extension: "json"}}

	c := transform.New(syncer, executor, t.TempDir(), nil)

	path, err := c.Run(context.Background(), docA, transform.ActionItems, t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestRunExecutorFailureSurfaces(t *testing.T) {
	execErr := errors.New("provider quota exceeded")
	c := transform.New(&fakeSyncer{}, &fakeExecutor{err: execErr}, t.TempDir(), nil)

	_, err := c.Run(context.Background(), docA, transform.Text, t.TempDir())
	assert.ErrorIs(t, err, execErr)
}

func TestRunCreatesOutputDirectory(t *testing.T) {
	executor := &fakeExecutor{result: &transform.Result{Bytes: []byte("ok"), Extension: "txt"}}
	c := transform.New(&fakeSyncer{}, executor, t.TempDir(), nil)

	outDir := filepath.Join(t.TempDir(), "nested", "out")

	path, err := c.Run(context.Background(), docA, transform.Text, outDir)
	require.NoError(t, err)
	assert.FileExists(t, path)
}
