package sshchannel

import (
	"sort"
	"strings"
	"time"

	"github.com/tobsai/inksight/internal/docid"
)

// documentMatch classifies an entry against a document id: fileMatch is
// true when the entry is one of "<id>.<ext>"; dirMatch is true when the
// entry is exactly "<id>" and is a directory.
func documentMatch(entry RemoteFileEntry, id docid.DocumentID) (fileMatch, dirMatch bool) {
	prefix := id.String()

	if entry.Name == prefix && entry.IsDirectory {
		return false, true
	}

	if !entry.IsDirectory && strings.HasPrefix(entry.Name, prefix+".") {
		return true, false
	}

	return false, false
}

// groupDocumentSummaries groups a documents-root listing by the canonical
// document id embedded in each entry's name and reduces each group to the
// most recent ModifiedAt among its artifacts. Entries whose name does not
// begin with a canonical id are ignored. Result is sorted by id.
func groupDocumentSummaries(entries []RemoteFileEntry) []DocumentSummary {
	latest := make(map[string]time.Time)
	ids := make(map[string]docid.DocumentID)

	for _, entry := range entries {
		id, ok := docid.ExtractPrefix(entry.Name)
		if !ok {
			continue
		}

		key := id.String()
		ids[key] = id

		if t, exists := latest[key]; !exists || entry.ModifiedAt.After(t) {
			latest[key] = entry.ModifiedAt
		}
	}

	summaries := make([]DocumentSummary, 0, len(ids))
	for key, id := range ids {
		summaries = append(summaries, DocumentSummary{ID: id, ModifiedAt: latest[key]})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID.String() < summaries[j].ID.String() })

	return summaries
}
