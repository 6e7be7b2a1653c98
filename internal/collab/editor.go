package collab

// Editor tracks one collaborator's local view of a document: it applies
// incoming full-content snapshots last-event-wins and suppresses the echo a
// naive change detector would produce while a remote snapshot is being
// applied. Used by headless clients and by tests; browser clients implement
// the same contract.
type Editor struct {
	content  string
	cursor   CursorRange
	applying bool
	emit     func(content string)
}

// NewEditor creates an editor that calls emit for every genuine local edit.
func NewEditor(emit func(content string)) *Editor {
	return &Editor{emit: emit}
}

func (e *Editor) Content() string {
	return e.content
}

func (e *Editor) Cursor() CursorRange {
	return e.cursor
}

func (e *Editor) SetCursor(r CursorRange) {
	e.cursor = r
}

// Edit records a local content change and emits it, unless the change is
// the editor's own detector firing while a remote snapshot is applied.
func (e *Editor) Edit(content string) {
	if content == e.content {
		return
	}
	e.content = content
	if e.applying {
		return
	}
	e.emit(content)
}

// ApplyRemote replaces local content with an incoming snapshot. The guard
// flag keeps the replacement from being echoed back out as a new change,
// and the cursor is restored by character offset against the new content,
// clamped when the content shrank.
func (e *Editor) ApplyRemote(change ChangeBroadcast) {
	if change.Content == e.content {
		return
	}
	cursor := e.cursor

	e.applying = true
	e.Edit(change.Content)
	e.applying = false

	limit := len([]rune(change.Content))
	if cursor.Start > limit {
		cursor.Start = limit
	}
	if cursor.End > limit {
		cursor.End = limit
	}
	e.cursor = cursor
}
