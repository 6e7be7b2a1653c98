// Package collab implements the realtime collaboration layer: room
// membership and presence, change and cursor fan-out, and the debounced
// save policy that turns a stream of edits into version snapshots.
package collab

import "encoding/json"

// Wire event names. Each message is a one-way notification wrapped in an
// Envelope; there is no request/response pairing.
const (
	// client -> server
	EventJoinDocument   = "join-document"
	EventLeaveDocument  = "leave-document"
	EventDocumentChange = "document-change"
	EventCursorPosition = "cursor-position"

	// server -> client
	EventDocumentUsers = "document-users"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventDocumentSaved = "document-saved"
	EventSaveError     = "save-error"
)

// Envelope is the framing for every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CursorRange is a half-open character range against the flattened text of
// the document. Transient presence data, never persisted.
type CursorRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// JoinPayload and LeavePayload carry the target room.
type JoinPayload struct {
	DocumentID string `json:"documentId"`
}

type LeavePayload struct {
	DocumentID string `json:"documentId"`
}

// ChangePayload is a full-content replacement, not a delta.
type ChangePayload struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

type CursorPayload struct {
	DocumentID string      `json:"documentId"`
	Position   CursorRange `json:"position"`
}

// Member is one entry in a room roster.
type Member struct {
	UserID   string       `json:"userId"`
	Username string       `json:"username"`
	Cursor   *CursorRange `json:"cursor"`
}

// ChangeBroadcast is what other room members receive for a change; the
// server stamps sender identity and time before relaying.
type ChangeBroadcast struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Timestamp  int64  `json:"timestamp"`
}

// PresenceNotice announces a join or leave to the rest of the room.
type PresenceNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type CursorBroadcast struct {
	DocumentID string      `json:"documentId"`
	UserID     string      `json:"userId"`
	Username   string      `json:"username"`
	Position   CursorRange `json:"position"`
}

// SaveNotice confirms a durable save back to the last editor.
type SaveNotice struct {
	DocumentID string `json:"documentId"`
	Version    int    `json:"version"`
}

// SaveFailure reports a failed durable save to the last editor. There is no
// automatic retry; the next edit arms the next attempt.
type SaveFailure struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
}
