package migrate

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kibela/kibela-to-kibela/pkg/archive"
	"github.com/kibela/kibela-to-kibela/pkg/kibela"
	"github.com/kibela/kibela-to-kibela/pkg/kibela/ops"
	"github.com/kibela/kibela-to-kibela/pkg/translog"
)

// Importer replays an export archive into the destination team.
type Importer struct {
	Client Requester
	Log    *translog.Log
	Logger *slog.Logger
	// Limiter paces mutations on top of the client's own adaptive delay.
	Limiter *rate.Limiter
	DryRun  bool
}

// ImportResult summarizes one import run.
type ImportResult struct {
	BatchID     string
	Notes       int
	Comments    int
	Attachments int
	Skipped     int
	Failed      int
}

// Run uploads attachments first (so note bodies can be fixed up against
// their new paths), then creates notes and their comments. Every applied
// mutation is recorded in the transaction log under one batch id.
func (im *Importer) Run(ctx context.Context, ar *archive.Archive) (*ImportResult, error) {
	result := &ImportResult{BatchID: uuid.NewString()}
	logger := im.logger()
	logger.Info("starting import", "archive", ar.Root(), "batch", result.BatchID, "dry_run", im.DryRun)

	attachments, err := ar.Attachments()
	if err != nil {
		return nil, err
	}
	for _, att := range attachments {
		if err := im.importAttachment(ctx, ar, att, result); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			logger.Error("attachment failed", "path", att.Path, "error", err)
		}
	}

	notes, problems, err := ar.Notes()
	if err != nil {
		return nil, err
	}
	for _, p := range problems {
		result.Skipped++
		logger.Warn("skipping unparsable note", "path", p.Path, "error", p.Err)
	}
	for _, note := range notes {
		if err := im.importNote(ctx, note, result); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			logger.Error("note failed", "path", note.Path, "error", err)
		}
	}

	logger.Info("import finished",
		"batch", result.BatchID,
		"notes", result.Notes, "comments", result.Comments,
		"attachments", result.Attachments,
		"skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

func (im *Importer) importAttachment(ctx context.Context, ar *archive.Archive, att archive.Attachment, result *ImportResult) error {
	if err := im.wait(ctx); err != nil {
		return err
	}
	data, err := ar.ReadAttachment(att.Path)
	if err != nil {
		return err
	}
	variables := map[string]any{
		"input": map[string]any{
			"name":             att.Name,
			"data":             base64.StdEncoding.EncodeToString(data),
			"kind":             "GENERAL",
			"clientMutationId": uuid.NewString(),
		},
	}
	if im.DryRun {
		result.Attachments++
		return nil
	}
	resp, err := im.Client.Request(ctx, ops.UploadAttachment, variables)
	if err != nil {
		return err
	}
	return im.record(ctx, result, translog.Entry{
		Kind:       translog.KindAttachment,
		SourcePath: att.Path,
		Payload:    payloadJSON(variables),
	}, resp.Data, "$.uploadAttachment.attachment", func() { result.Attachments++ })
}

func (im *Importer) importNote(ctx context.Context, note archive.Note, result *ImportResult) error {
	if err := im.wait(ctx); err != nil {
		return err
	}
	input := map[string]any{
		"title":            note.Meta.Title,
		"content":          note.Body,
		"coediting":        true,
		"clientMutationId": uuid.NewString(),
	}
	if len(note.Meta.Folders) > 0 {
		input["folderName"] = note.Meta.Folders[0]
	}
	variables := map[string]any{"input": input}
	if im.DryRun {
		result.Notes++
		result.Comments += len(note.Meta.Comments)
		return nil
	}
	resp, err := im.Client.Request(ctx, ops.CreateNote, variables)
	if err != nil {
		return err
	}
	if err := im.record(ctx, result, translog.Entry{
		Kind:       translog.KindNote,
		SourcePath: note.Path,
		Payload:    payloadJSON(variables),
	}, resp.Data, "$.createNote.note", func() { result.Notes++ }); err != nil {
		return err
	}

	noteID, err := kibela.PluckString(resp.Data, "$.createNote.note.id")
	if err != nil {
		return err
	}
	for i, comment := range note.Meta.Comments {
		if err := im.importComment(ctx, note, i, comment, noteID, result); err != nil {
			if ctx.Err() != nil {
				return err
			}
			result.Failed++
			im.logger().Error("comment failed", "note", note.Path, "index", i, "error", err)
		}
	}
	return nil
}

func (im *Importer) importComment(ctx context.Context, note archive.Note, index int, comment archive.Comment, noteID string, result *ImportResult) error {
	if err := im.wait(ctx); err != nil {
		return err
	}
	variables := map[string]any{
		"input": map[string]any{
			"commentableId":    noteID,
			"content":          comment.Content,
			"clientMutationId": uuid.NewString(),
		},
	}
	resp, err := im.Client.Request(ctx, ops.CreateComment, variables)
	if err != nil {
		return err
	}
	commentID, err := kibela.PluckString(resp.Data, "$.createComment.comment.id")
	if err != nil {
		return err
	}
	if err := im.Log.Append(ctx, translog.Entry{
		ID:         uuid.NewString(),
		BatchID:    result.BatchID,
		Kind:       translog.KindComment,
		SourcePath: fmt.Sprintf("%s#comment-%d", note.Path, index),
		RemoteID:   commentID,
		Payload:    payloadJSON(variables),
	}); err != nil {
		return err
	}
	result.Comments++
	return nil
}

// record extracts id/path/url from the mutation result under base and
// appends a transaction log entry. The counter bump only happens once the
// entry is durably logged: an unlogged creation cannot be reversed.
func (im *Importer) record(ctx context.Context, result *ImportResult, entry translog.Entry, data map[string]any, base string, bump func()) error {
	id, err := kibela.PluckString(data, base+".id")
	if err != nil {
		return err
	}
	entry.ID = uuid.NewString()
	entry.BatchID = result.BatchID
	entry.RemoteID = id
	if p, err := kibela.PluckString(data, base+".path"); err == nil {
		entry.RemotePath = p
	}
	if u, err := kibela.PluckString(data, base+".url"); err == nil {
		entry.RemoteURL = u
	}
	if err := im.Log.Append(ctx, entry); err != nil {
		return fmt.Errorf("record %s: %w", entry.SourcePath, err)
	}
	bump()
	return nil
}

func (im *Importer) wait(ctx context.Context) error {
	if im.Limiter == nil {
		return nil
	}
	return im.Limiter.Wait(ctx)
}

func (im *Importer) logger() *slog.Logger {
	if im.Logger != nil {
		return im.Logger
	}
	return slog.Default()
}
