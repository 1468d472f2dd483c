package ops

// The static catalog used by the ping, import, unimport, and fixup
// commands. Mutation inputs accept a clientMutationId so a retried write
// can at least be correlated in the transaction log; see DESIGN.md for the
// duplicate-on-retry caveat.
var (
	// Ping verifies credentials and connectivity.
	Ping = MustNew(`query Ping {
  currentUser {
    account
    realName
  }
}`)

	// GetNote fetches a note for fixup rewriting.
	GetNote = MustNew(`query GetNote($id: ID!) {
  note(id: $id) {
    id
    title
    content
    url
    path
  }
}`)

	// CreateNote replays one exported note.
	CreateNote = MustNew(`mutation CreateNote($input: CreateNoteInput!) {
  createNote(input: $input) {
    note {
      id
      path
      url
      title
    }
  }
}`)

	// CreateComment attaches an exported comment to a migrated note.
	CreateComment = MustNew(`mutation CreateComment($input: CreateCommentInput!) {
  createComment(input: $input) {
    comment {
      id
    }
  }
}`)

	// UploadAttachment replays one exported attachment.
	UploadAttachment = MustNew(`mutation UploadAttachment($input: UploadAttachmentInput!) {
  uploadAttachment(input: $input) {
    attachment {
      id
      path
      url
    }
  }
}`)

	// UpdateNoteContent pushes fixed-up note bodies.
	UpdateNoteContent = MustNew(`mutation UpdateNoteContent($input: UpdateNoteContentInput!) {
  updateNoteContent(input: $input) {
    note {
      id
      contentUpdatedAt
    }
  }
}`)

	// DeleteNote reverses a migrated note.
	DeleteNote = MustNew(`mutation DeleteNote($input: DeleteNoteInput!) {
  deleteNote(input: $input) {
    clientMutationId
  }
}`)

	// DeleteComment reverses a migrated comment.
	DeleteComment = MustNew(`mutation DeleteComment($input: DeleteCommentInput!) {
  deleteComment(input: $input) {
    clientMutationId
  }
}`)
)
