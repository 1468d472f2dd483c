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

// Unimporter reverses a previously imported batch by replaying deletes in
// reverse creation order.
type Unimporter struct {
	Client Requester
	Log    *translog.Log
	Logger *slog.Logger
	DryRun bool
}

// UnimportResult summarizes one unimport run.
type UnimportResult struct {
	BatchID     string
	Deleted     int
	AlreadyGone int
	// Attachments cannot be deleted through the API; they are left in
	// place and counted here.
	SkippedAttachments int
	Failed             int
}

// Run deletes the batch's notes and comments. A NOT_FOUND response is soft:
// the item is already gone, which is the desired end state.
func (u *Unimporter) Run(ctx context.Context, batchID string) (*UnimportResult, error) {
	logger := u.logger()
	entries, err := u.Log.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("unimport: batch %q has no live entries", batchID)
	}

	result := &UnimportResult{BatchID: batchID}
	logger.Info("starting unimport", "batch", batchID, "entries", len(entries), "dry_run", u.DryRun)

	for _, entry := range entries {
		var op *ops.Operation
		switch entry.Kind {
		case translog.KindNote:
			op = ops.DeleteNote
		case translog.KindComment:
			op = ops.DeleteComment
		case translog.KindAttachment:
			result.SkippedAttachments++
			continue
		default:
			result.Failed++
			logger.Error("unknown entry kind", "id", entry.ID, "kind", entry.Kind)
			continue
		}

		if u.DryRun {
			result.Deleted++
			continue
		}

		variables := map[string]any{
			"input": map[string]any{
				"id":               entry.RemoteID,
				"clientMutationId": uuid.NewString(),
			},
		}
		_, err := u.Client.Request(ctx, op, variables)
		switch {
		case err == nil:
			result.Deleted++
		case kibela.IsNotFound(err):
			result.AlreadyGone++
			logger.Debug("already deleted", "kind", entry.Kind, "remote_id", entry.RemoteID)
		default:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			logger.Error("delete failed", "kind", entry.Kind, "remote_id", entry.RemoteID, "error", err)
			continue
		}

		if err := u.Log.MarkReverted(ctx, entry.ID); err != nil {
			return result, fmt.Errorf("mark reverted %s: %w", entry.ID, err)
		}
	}

	logger.Info("unimport finished",
		"batch", batchID,
		"deleted", result.Deleted, "already_gone", result.AlreadyGone,
		"skipped_attachments", result.SkippedAttachments, "failed", result.Failed)
	return result, nil
}

func (u *Unimporter) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}
