package collab

import (
	"context"
	"log"
	"time"
)

// Conn is one live transport connection as the hub sees it. Send must not
// block; implementations buffer and drop when the peer cannot keep up, so
// delivery is at-most-once per connected member.
type Conn interface {
	Send(event string, data any)
}

// Saver is the durable document store boundary. Save failures are reported
// to the editing session and otherwise leave in-memory room state untouched.
type Saver interface {
	SaveContent(ctx context.Context, documentID, content string, title *string) error
	AppendNextVersion(ctx context.Context, documentID, content, authorID string) (int, error)
}

// Access resolves a user's permission for a document ("read" or "write").
// The transport consults it before admitting a connection to a room; an
// error means no access and the join is dropped.
type Access interface {
	DocumentPermission(ctx context.Context, documentID, userID string) (string, error)
}

type sessionState struct {
	conn     Conn
	userID   string
	username string
}

type memberState struct {
	userID     string
	username   string
	permission string
	cursor     *CursorRange
}

// pendingSave is the debounce state for one document: the latest unsaved
// content and the timer armed to flush it after the quiet window.
type pendingSave struct {
	content      string
	editorConnID string
	editorUserID string
	timer        *time.Timer
}

// Hub owns all presence and room state. Every mutation is a command
// processed by the single Run goroutine, so the maps need no locking and
// handlers run to completion without preemption. Saves are issued
// asynchronously; a completion command carries the result back in.
type Hub struct {
	saver    Saver
	debounce time.Duration
	commands chan command

	sessions map[string]*sessionState         // connection id -> session
	rooms    map[string]map[string]*memberState // document id -> connection id -> member
	pending  map[string]*pendingSave          // document id -> unsaved edit
}

func NewHub(saver Saver, debounce time.Duration) *Hub {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Hub{
		saver:    saver,
		debounce: debounce,
		commands: make(chan command, 256),
		sessions: make(map[string]*sessionState),
		rooms:    make(map[string]map[string]*memberState),
		pending:  make(map[string]*pendingSave),
	}
}

// Run processes commands until ctx is cancelled. Pending unsaved edits are
// flushed best-effort on the way out.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for documentID := range h.pending {
				h.flushPending(documentID)
			}
			return
		case cmd := <-h.commands:
			cmd.apply(h)
		}
	}
}

type command interface {
	apply(h *Hub)
}

type registerCmd struct {
	connID   string
	conn     Conn
	userID   string
	username string
}

type unregisterCmd struct {
	connID string
}

type joinCmd struct {
	connID     string
	documentID string
	permission string
}

type leaveCmd struct {
	connID     string
	documentID string
}

type changeCmd struct {
	connID     string
	documentID string
	content    string
}

type cursorCmd struct {
	connID     string
	documentID string
	position   CursorRange
}

type saveTimerCmd struct {
	documentID string
}

type saveDoneCmd struct {
	documentID   string
	version      int
	err          error
	editorConnID string
}

type snapshotCmd struct {
	reply chan map[string][]Member
}

// Register records an authenticated connection. Credential verification
// happens at the transport before this is called.
func (h *Hub) Register(connID string, conn Conn, userID, username string) {
	h.commands <- registerCmd{connID: connID, conn: conn, userID: userID, username: username}
}

// Unregister is the disconnect path: the connection leaves every room it
// occupies.
func (h *Hub) Unregister(connID string) {
	h.commands <- unregisterCmd{connID: connID}
}

// Join admits an already-authorized connection to a room. permission is the
// caller's resolved access level for the document ("read" or "write"); the
// transport resolves it before posting the command so the reactor never
// blocks on storage.
func (h *Hub) Join(connID, documentID, permission string) {
	h.commands <- joinCmd{connID: connID, documentID: documentID, permission: permission}
}

func (h *Hub) Leave(connID, documentID string) {
	h.commands <- leaveCmd{connID: connID, documentID: documentID}
}

func (h *Hub) Change(connID, documentID, content string) {
	h.commands <- changeCmd{connID: connID, documentID: documentID, content: content}
}

func (h *Hub) Cursor(connID, documentID string, position CursorRange) {
	h.commands <- cursorCmd{connID: connID, documentID: documentID, position: position}
}

// Rooms returns a point-in-time snapshot of room rosters, computed on the
// reactor goroutine.
func (h *Hub) Rooms() map[string][]Member {
	reply := make(chan map[string][]Member, 1)
	h.commands <- snapshotCmd{reply: reply}
	return <-reply
}

func (c registerCmd) apply(h *Hub) {
	h.sessions[c.connID] = &sessionState{conn: c.conn, userID: c.userID, username: c.username}
}

func (c unregisterCmd) apply(h *Hub) {
	session := h.sessions[c.connID]
	if session == nil {
		return
	}
	delete(h.sessions, c.connID)
	if closer, ok := session.conn.(interface{ closeSend() }); ok {
		closer.closeSend()
	}

	// A connection normally occupies at most one room, but nothing enforces
	// that, so scan them all.
	for documentID, members := range h.rooms {
		if _, ok := members[c.connID]; !ok {
			continue
		}
		delete(members, c.connID)
		h.broadcast(documentID, c.connID, EventUserLeft, PresenceNotice{
			UserID:   session.userID,
			Username: session.username,
		})
		h.disposeRoomIfEmpty(documentID)
	}
}

func (c joinCmd) apply(h *Hub) {
	session := h.sessions[c.connID]
	if session == nil || c.documentID == "" {
		return
	}
	if c.permission != "read" && c.permission != "write" {
		return
	}

	members := h.rooms[c.documentID]
	if members == nil {
		members = make(map[string]*memberState)
		h.rooms[c.documentID] = members
	}

	h.broadcast(c.documentID, c.connID, EventUserJoined, PresenceNotice{
		UserID:   session.userID,
		Username: session.username,
	})

	// Roster sent to the joiner lists everyone already present; the joiner
	// knows itself.
	roster := make([]Member, 0, len(members))
	for _, m := range members {
		roster = append(roster, Member{UserID: m.userID, Username: m.username, Cursor: m.cursor})
	}
	session.conn.Send(EventDocumentUsers, roster)

	members[c.connID] = &memberState{userID: session.userID, username: session.username, permission: c.permission}
}

func (c leaveCmd) apply(h *Hub) {
	session := h.sessions[c.connID]
	members := h.rooms[c.documentID]
	if session == nil || members == nil {
		return
	}
	if _, ok := members[c.connID]; !ok {
		return
	}
	delete(members, c.connID)
	h.broadcast(c.documentID, c.connID, EventUserLeft, PresenceNotice{
		UserID:   session.userID,
		Username: session.username,
	})
	h.disposeRoomIfEmpty(c.documentID)
}

func (c changeCmd) apply(h *Hub) {
	session := h.sessions[c.connID]
	members := h.rooms[c.documentID]
	if session == nil || members == nil {
		return
	}
	// Read-only members see the room live but cannot edit it; the durable
	// save below inherits the same gate.
	member, ok := members[c.connID]
	if !ok || member.permission != "write" {
		return
	}

	// Relay immediately so remote views feel live; persistence is debounced
	// separately below.
	h.broadcast(c.documentID, c.connID, EventDocumentChange, ChangeBroadcast{
		DocumentID: c.documentID,
		Content:    c.content,
		UserID:     session.userID,
		Username:   session.username,
		Timestamp:  time.Now().UnixMilli(),
	})

	pending := h.pending[c.documentID]
	if pending == nil {
		pending = &pendingSave{}
		h.pending[c.documentID] = pending
	}
	pending.content = c.content
	pending.editorConnID = c.connID
	pending.editorUserID = session.userID
	if pending.timer != nil {
		pending.timer.Stop()
	}
	documentID := c.documentID
	pending.timer = time.AfterFunc(h.debounce, func() {
		h.commands <- saveTimerCmd{documentID: documentID}
	})
}

func (c cursorCmd) apply(h *Hub) {
	session := h.sessions[c.connID]
	members := h.rooms[c.documentID]
	if session == nil || members == nil {
		return
	}
	member, ok := members[c.connID]
	if !ok {
		return
	}
	position := c.position
	member.cursor = &position

	h.broadcast(c.documentID, c.connID, EventCursorPosition, CursorBroadcast{
		DocumentID: c.documentID,
		UserID:     session.userID,
		Username:   session.username,
		Position:   position,
	})
}

func (c saveTimerCmd) apply(h *Hub) {
	pending := h.pending[c.documentID]
	if pending == nil {
		return
	}
	delete(h.pending, c.documentID)
	h.startSave(c.documentID, pending)
}

func (c saveDoneCmd) apply(h *Hub) {
	session := h.sessions[c.editorConnID]
	if c.err != nil {
		log.Printf("collab: save %s failed: %v", c.documentID, c.err)
		if session != nil {
			session.conn.Send(EventSaveError, SaveFailure{DocumentID: c.documentID, Error: "save failed"})
		}
		return
	}
	if session != nil {
		session.conn.Send(EventDocumentSaved, SaveNotice{DocumentID: c.documentID, Version: c.version})
	}
}

func (c snapshotCmd) apply(h *Hub) {
	snapshot := make(map[string][]Member, len(h.rooms))
	for documentID, members := range h.rooms {
		roster := make([]Member, 0, len(members))
		for _, m := range members {
			roster = append(roster, Member{UserID: m.userID, Username: m.username, Cursor: m.cursor})
		}
		snapshot[documentID] = roster
	}
	c.reply <- snapshot
}

// broadcast fans an event out to every member of a room except one
// connection, at most once per member, best-effort.
func (h *Hub) broadcast(documentID, excludeConnID, event string, data any) {
	for connID := range h.rooms[documentID] {
		if connID == excludeConnID {
			continue
		}
		if session := h.sessions[connID]; session != nil {
			session.conn.Send(event, data)
		}
	}
}

func (h *Hub) disposeRoomIfEmpty(documentID string) {
	members := h.rooms[documentID]
	if members != nil && len(members) == 0 {
		delete(h.rooms, documentID)
		h.flushPending(documentID)
	}
}

// flushPending forces a pending debounced save out early, used when a room
// empties or the hub shuts down. Best-effort: the session that made the
// edit may already be gone.
func (h *Hub) flushPending(documentID string) {
	pending := h.pending[documentID]
	if pending == nil {
		return
	}
	if pending.timer != nil {
		pending.timer.Stop()
	}
	delete(h.pending, documentID)
	h.startSave(documentID, pending)
}

// startSave issues the durable write off the reactor goroutine so other
// rooms keep moving; the result comes back as a saveDoneCmd. There is no
// cancellation of in-flight saves, so a stale save can complete after a
// newer one and last-writer-by-completion wins, matching the storage
// contract.
func (h *Hub) startSave(documentID string, pending *pendingSave) {
	content := pending.content
	editorConnID := pending.editorConnID
	editorUserID := pending.editorUserID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var version int
		err := h.saver.SaveContent(ctx, documentID, content, nil)
		if err == nil {
			version, err = h.saver.AppendNextVersion(ctx, documentID, content, editorUserID)
		}
		h.commands <- saveDoneCmd{
			documentID:   documentID,
			version:      version,
			err:          err,
			editorConnID: editorConnID,
		}
	}()
}
