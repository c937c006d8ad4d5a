package monitor

import (
	"path"
	"strings"
	"time"

	"github.com/tobsai/inksight/internal/docid"
)

// parseEventLine parses one inotifywait output line ("<path> <flags>") into
// a ChangeEvent. Lines whose path basename does not begin with a canonical
// document id, or whose flags don't map to a known kind, are discarded
// (ok=false).
func parseEventLine(line string) (ChangeEvent, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ChangeEvent{}, false
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ChangeEvent{}, false
	}

	filePath := fields[0]
	flags := fields[1:]

	id, ok := docid.ExtractPrefix(path.Base(filePath))
	if !ok {
		return ChangeEvent{}, false
	}

	kind, ok := flagsToKind(flags)
	if !ok {
		return ChangeEvent{}, false
	}

	return ChangeEvent{
		DocumentID:    id,
		Kind:          kind,
		ObservedAt:    time.Now().UTC(),
		AffectedFiles: []string{filePath},
	}, true
}

// flagsToKind maps inotifywait event flag tokens to a ChangeKind.
// Tokens may be comma-joined by inotifywait ("CLOSE_WRITE,CLOSE");
// trailing commas are stripped before matching.
func flagsToKind(flags []string) (ChangeKind, bool) {
	for _, raw := range flags {
		for _, token := range strings.Split(raw, ",") {
			switch strings.TrimSpace(token) {
			case "CLOSE_WRITE", "MODIFY":
				return Modified, true
			case "CREATE", "MOVED_TO":
				return Created, true
			case "DELETE", "MOVED_FROM":
				return Deleted, true
			}
		}
	}

	return 0, false
}

// diffSnapshots compares two documents-root snapshots and returns one
// ChangeEvent per document whose files changed: a document is Created if
// any of its files is new, else Modified if any differs or some (but not
// all) of its files vanished, else Deleted if all of its files vanished.
func diffSnapshots(prev, curr map[string]fileStat) []ChangeEvent {
	now := time.Now().UTC()

	type docState struct {
		anyCreated  bool
		anyModified bool
		anyDeleted  bool
		anyPresent  bool
		files       []string
	}

	states := make(map[string]*docState)

	touch := func(name string) *docState {
		id, ok := docid.ExtractPrefix(name)
		if !ok {
			return nil
		}

		key := id.String()

		st, ok := states[key]
		if !ok {
			st = &docState{}
			states[key] = st
		}

		st.files = append(st.files, name)

		return st
	}

	for name, curStat := range curr {
		prevStat, existed := prev[name]

		st := touch(name)
		if st == nil {
			continue
		}

		switch {
		case !existed:
			st.anyCreated = true
		case curStat != prevStat:
			st.anyModified = true
		}

		st.anyPresent = true
	}

	for name := range prev {
		if _, stillPresent := curr[name]; stillPresent {
			continue
		}

		st := touch(name)
		if st == nil {
			continue
		}

		st.anyDeleted = true
	}

	events := make([]ChangeEvent, 0, len(states))

	for key, st := range states {
		id := docid.MustParse(key)

		var kind ChangeKind

		switch {
		case st.anyCreated:
			kind = Created
		case st.anyModified:
			kind = Modified
		case st.anyDeleted && !st.anyPresent:
			kind = Deleted
		case st.anyDeleted:
			kind = Modified
		default:
			continue
		}

		events = append(events, ChangeEvent{
			DocumentID:    id,
			Kind:          kind,
			ObservedAt:    now,
			AffectedFiles: st.files,
		})
	}

	return events
}
