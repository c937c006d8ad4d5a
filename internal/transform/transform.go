// Package transform implements the transform coordinator: the entry
// point the outer application uses to run one AI-backed transformation
// against one document. The coordinator orchestrates
// sync-then-execute-then-persist; the executor itself is opaque,
// supplied by the caller behind a one-method interface. The coordinator
// owns ordering and persistence, never the work itself.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tobsai/inksight/internal/docid"
	"github.com/tobsai/inksight/internal/docsync"
)

// Type names one transformation kind.
type Type string

const (
	Text        Type = "text"
	Diagram     Type = "diagram"
	Summary     Type = "summary"
	ActionItems Type = "action-items"
	Translate   Type = "translate"
)

// Request is the executor's input contract.
type Request struct {
	DocumentID docid.DocumentID
	Type       Type
	// LocalDir is the cache directory holding the synced document files.
	LocalDir string
	Options  map[string]string
}

// Result is the executor's output contract. Extension is one of
// "md", "txt", "json", "html".
type Result struct {
	Bytes     []byte
	Extension string
	CostUnits float64
	Duration  time.Duration
}

// Executor is the opaque transform executor. Implementations live outside
// the core (AI provider integrations, prompt templates, rendering).
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Syncer is the slice of the Incremental Sync Engine the coordinator
// needs: bring one document up to date before transforming it.
type Syncer interface {
	SyncDocument(id docid.DocumentID) (docsync.TransientSyncState, error)
}

// Coordinator runs transformations one document at a time. It does not
// fan out across documents; outer batch layers bound parallelism.
type Coordinator struct {
	syncer   Syncer
	executor Executor
	localDir string
	logger   *slog.Logger
}

// New creates a Coordinator. localDir is the sync engine's cache
// directory, handed to the executor so it can read the document files.
func New(syncer Syncer, executor Executor, localDir string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{syncer: syncer, executor: executor, localDir: localDir, logger: logger}
}

// Run syncs the document (best-effort), executes the transform, writes the
// output to <outputDir>/<docId>-<type>.<ext>, and returns the final path.
// A sync failure is non-fatal: execution continues with whatever is
// locally present. Executor failures surface as-is.
func (c *Coordinator) Run(ctx context.Context, id docid.DocumentID, transformType Type, outputDir string) (string, error) {
	if _, err := c.syncer.SyncDocument(id); err != nil {
		c.logger.Warn("transform: pre-sync failed, continuing with local copy",
			slog.String("doc", id.String()), slog.String("error", err.Error()))
	}

	result, err := c.executor.Execute(ctx, Request{
		DocumentID: id,
		Type:       transformType,
		LocalDir:   c.localDir,
	})
	if err != nil {
		return "", fmt.Errorf("transform: executing %s for %s: %w", transformType, id, err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("transform: creating output directory: %w", err)
	}

	outputPath := filepath.Join(outputDir, fmt.Sprintf("%s-%s.%s", id, transformType, result.Extension))

	if err := os.WriteFile(outputPath, result.Bytes, 0o644); err != nil {
		return "", fmt.Errorf("transform: writing output: %w", err)
	}

	c.logger.Info("transform: finished",
		slog.String("doc", id.String()),
		slog.String("type", string(transformType)),
		slog.String("output", outputPath),
		slog.Float64("costUnits", result.CostUnits),
		slog.Duration("duration", result.Duration))

	return outputPath, nil
}
