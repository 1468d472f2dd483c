package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kibela/kibela-to-kibela/pkg/kibela"
	"github.com/kibela/kibela-to-kibela/pkg/kibela/ops"
	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

// Fixer rewrites cross-references inside the batch's migrated notes to
// point at their new locations.
type Fixer struct {
	Client Requester
	Log    *translog.Log
	Logger *slog.Logger
	// SrcTeam is the source team whose absolute URLs get rewritten.
	SrcTeam string
	DryRun  bool
}

// FixupResult summarizes one fixup run.
type FixupResult struct {
	BatchID   string
	Rewritten int
	Unchanged int
	Failed    int
}

// Run fetches each migrated note, rewrites references using the batch
// mapping, and pushes changed bodies back.
func (f *Fixer) Run(ctx context.Context, batchID string) (*FixupResult, error) {
	logger := f.logger()

	mapping, err := f.Log.Mapping(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("fixup: batch %q has no mapping", batchID)
	}
	rewriter := NewRewriter(f.SrcTeam, mapping)

	entries, err := f.Log.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	result := &FixupResult{BatchID: batchID}
	logger.Info("starting fixup", "batch", batchID, "dry_run", f.DryRun)

	for _, entry := range entries {
		if entry.Kind != translog.KindNote {
			continue
		}
		if err := f.fixNote(ctx, rewriter, entry, result); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			logger.Error("fixup failed", "remote_id", entry.RemoteID, "source", entry.SourcePath, "error", err)
		}
	}

	logger.Info("fixup finished", "batch", batchID,
		"rewritten", result.Rewritten, "unchanged", result.Unchanged, "failed", result.Failed)
	return result, nil
}

func (f *Fixer) fixNote(ctx context.Context, rewriter *Rewriter, entry translog.Entry, result *FixupResult) error {
	resp, err := f.Client.Request(ctx, ops.GetNote, map[string]any{"id": entry.RemoteID})
	if err != nil {
		return err
	}
	content, err := kibela.PluckString(resp.Data, "$.note.content")
	if err != nil {
		return err
	}

	rewritten, changed := rewriter.Rewrite(content)
	if !changed {
		result.Unchanged++
		return nil
	}
	if f.DryRun {
		f.logger().Info("would rewrite", "remote_id", entry.RemoteID, "source", entry.SourcePath)
		result.Rewritten++
		return nil
	}

	_, err = f.Client.Request(ctx, ops.UpdateNoteContent, map[string]any{
		"input": map[string]any{
			"id":               entry.RemoteID,
			"baseContent":      content,
			"newContent":       rewritten,
			"touch":            false,
			"clientMutationId": uuid.NewString(),
		},
	})
	if err != nil {
		return err
	}
	result.Rewritten++
	return nil
}

func (f *Fixer) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
