package sshchannel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tobsai/inksight/internal/docid"
)

func TestDocumentMatch(t *testing.T) {
	id := docid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	file, dir := documentMatch(RemoteFileEntry{Name: id.String() + ".metadata"}, id)
	assert.True(t, file)
	assert.False(t, dir)

	file, dir = documentMatch(RemoteFileEntry{Name: id.String(), IsDirectory: true}, id)
	assert.False(t, file)
	assert.True(t, dir)

	file, dir = documentMatch(RemoteFileEntry{Name: "other-file.txt"}, id)
	assert.False(t, file)
	assert.False(t, dir)

	// A directory entry whose name equals the id's prefix but is itself a
	// file (not a directory) must not be treated as the document directory.
	file, dir = documentMatch(RemoteFileEntry{Name: id.String(), IsDirectory: false}, id)
	assert.False(t, file)
	assert.False(t, dir)
}

func TestGroupDocumentSummaries(t *testing.T) {
	idA := docid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	idB := docid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	entries := []RemoteFileEntry{
		{Name: idB.String() + ".metadata", ModifiedAt: t0},
		{Name: idA.String() + ".metadata", ModifiedAt: t0},
		{Name: idA.String() + ".content", ModifiedAt: t1},
		{Name: "not-a-document.txt", ModifiedAt: t1},
	}

	summaries := groupDocumentSummaries(entries)

	assert := assert.New(t)
	assert.Len(summaries, 2)
	assert.Equal(idA.String(), summaries[0].ID.String())
	assert.True(summaries[0].ModifiedAt.Equal(t1), "expected latest mtime among the id's artifacts")
	assert.Equal(idB.String(), summaries[1].ID.String())
}
