package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedEvent struct {
	Event string
	Data  any
}

type fakeConn struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeConn) Send(event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Event: event, Data: data})
}

func (f *fakeConn) recorded(event string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []recordedEvent
	for _, e := range f.events {
		if e.Event == event {
			matched = append(matched, e)
		}
	}
	return matched
}

type savedSnapshot struct {
	DocumentID string
	Content    string
	AuthorID   string
	Version    int
}

type fakeSaver struct {
	mu       sync.Mutex
	saves    []savedSnapshot
	versions map[string]int
	failing  bool
}

func newFakeSaver() *fakeSaver {
	return &fakeSaver{versions: make(map[string]int)}
}

func (f *fakeSaver) SaveContent(_ context.Context, documentID, content string, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("storage down")
	}
	return nil
}

func (f *fakeSaver) AppendNextVersion(_ context.Context, documentID, content, authorID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errors.New("storage down")
	}
	f.versions[documentID]++
	f.saves = append(f.saves, savedSnapshot{
		DocumentID: documentID,
		Content:    content,
		AuthorID:   authorID,
		Version:    f.versions[documentID],
	})
	return f.versions[documentID], nil
}

func (f *fakeSaver) snapshots() []savedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]savedSnapshot, len(f.saves))
	copy(out, f.saves)
	return out
}

func startHub(t *testing.T, saver Saver, debounce time.Duration) *Hub {
	t.Helper()
	hub := NewHub(saver, debounce)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestJoinCreatesRoomAndLeaveDisposesIt(t *testing.T) {
	hub := startHub(t, newFakeSaver(), time.Second)

	a := &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Join("conn-a", "doc-1", "write")

	rooms := hub.Rooms()
	if len(rooms["doc-1"]) != 1 || rooms["doc-1"][0].UserID != "user-a" {
		t.Fatalf("expected doc-1 membership [user-a], got %+v", rooms)
	}

	hub.Leave("conn-a", "doc-1")
	rooms = hub.Rooms()
	if _, ok := rooms["doc-1"]; ok {
		t.Fatalf("expected empty room to be disposed, got %+v", rooms)
	}

	// Leaving a room never joined is a no-op.
	hub.Leave("conn-a", "doc-none")
	if rooms := hub.Rooms(); len(rooms) != 0 {
		t.Fatalf("expected no rooms, got %+v", rooms)
	}
}

func TestChangeBroadcastExcludesSender(t *testing.T) {
	hub := startHub(t, newFakeSaver(), time.Second)

	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Register("conn-b", b, "user-b", "bob")
	hub.Register("conn-c", c, "user-c", "carol")
	hub.Join("conn-a", "doc-1", "write")
	hub.Join("conn-b", "doc-1", "write")
	hub.Join("conn-c", "doc-1", "write")

	hub.Change("conn-a", "doc-1", "<p>hello</p>")
	hub.Rooms() // round-trip so the change is applied

	if got := a.recorded(EventDocumentChange); len(got) != 0 {
		t.Fatalf("sender received its own change: %+v", got)
	}
	for name, conn := range map[string]*fakeConn{"b": b, "c": c} {
		got := conn.recorded(EventDocumentChange)
		if len(got) != 1 {
			t.Fatalf("member %s received %d changes, want 1", name, len(got))
		}
		change := got[0].Data.(ChangeBroadcast)
		if change.Content != "<p>hello</p>" || change.UserID != "user-a" || change.Username != "alice" {
			t.Fatalf("member %s received wrong payload: %+v", name, change)
		}
		if change.Timestamp == 0 {
			t.Fatalf("server did not stamp the change: %+v", change)
		}
	}
}

func TestChangeFromNonMemberIsIgnored(t *testing.T) {
	hub := startHub(t, newFakeSaver(), time.Second)

	a, b := &fakeConn{}, &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Register("conn-b", b, "user-b", "bob")
	hub.Join("conn-a", "doc-1", "write")

	hub.Change("conn-b", "doc-1", "<p>intruder</p>")
	hub.Rooms()

	if got := a.recorded(EventDocumentChange); len(got) != 0 {
		t.Fatalf("non-member change was relayed: %+v", got)
	}
}

func TestReadOnlyMemberCannotEdit(t *testing.T) {
	saver := newFakeSaver()
	hub := startHub(t, saver, 20*time.Millisecond)

	owner, viewer := &fakeConn{}, &fakeConn{}
	hub.Register("conn-owner", owner, "user-owner", "alice")
	hub.Register("conn-viewer", viewer, "user-viewer", "bob")
	hub.Join("conn-owner", "doc-1", "write")
	hub.Join("conn-viewer", "doc-1", "read")

	// The read-only member is present and sees live traffic.
	rooms := hub.Rooms()
	if len(rooms["doc-1"]) != 2 {
		t.Fatalf("expected both members in the room, got %+v", rooms)
	}
	hub.Change("conn-owner", "doc-1", "<p>owner edit</p>")
	hub.Rooms()
	if got := viewer.recorded(EventDocumentChange); len(got) != 1 {
		t.Fatalf("viewer received %d changes, want 1", len(got))
	}

	waitFor(t, time.Second, func() bool { return len(saver.snapshots()) == 1 })

	// Its own edits are dropped: no relay, no durable save.
	hub.Change("conn-viewer", "doc-1", "<p>viewer edit</p>")
	hub.Rooms()
	if got := owner.recorded(EventDocumentChange); len(got) != 0 {
		t.Fatalf("read-only edit was relayed: %+v", got)
	}
	time.Sleep(100 * time.Millisecond)
	saves := saver.snapshots()
	if len(saves) != 1 || saves[0].AuthorID != "user-owner" {
		t.Fatalf("read-only edit reached storage: %+v", saves)
	}
}

func TestJoinWithUnknownPermissionIsDropped(t *testing.T) {
	hub := startHub(t, newFakeSaver(), time.Second)

	a := &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Join("conn-a", "doc-1", "")
	hub.Join("conn-a", "doc-1", "admin")

	if rooms := hub.Rooms(); len(rooms) != 0 {
		t.Fatalf("join without a valid permission created a room: %+v", rooms)
	}
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	hub := startHub(t, newFakeSaver(), time.Second)

	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Register("conn-b", b, "user-b", "bob")
	hub.Register("conn-c", c, "user-c", "carol")
	hub.Join("conn-a", "doc-1", "write")
	hub.Join("conn-a", "doc-2", "write")
	hub.Join("conn-b", "doc-1", "write")
	hub.Join("conn-c", "doc-2", "write")

	hub.Unregister("conn-a")
	rooms := hub.Rooms()

	for _, documentID := range []string{"doc-1", "doc-2"} {
		for _, member := range rooms[documentID] {
			if member.UserID == "user-a" {
				t.Fatalf("disconnected connection still present in %s", documentID)
			}
		}
	}
	if got := b.recorded(EventUserLeft); len(got) != 1 {
		t.Fatalf("bob received %d user-left notices, want 1", len(got))
	}
	if got := c.recorded(EventUserLeft); len(got) != 1 {
		t.Fatalf("carol received %d user-left notices, want 1", len(got))
	}
}

func TestJoinRosterAndPresenceNotices(t *testing.T) {
	hub := startHub(t, newFakeSaver(), time.Second)

	a, b := &fakeConn{}, &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Register("conn-b", b, "user-b", "bob")

	hub.Join("conn-a", "doc-1", "write")
	hub.Rooms()

	rosters := a.recorded(EventDocumentUsers)
	if len(rosters) != 1 || len(rosters[0].Data.([]Member)) != 0 {
		t.Fatalf("first joiner should get an empty roster, got %+v", rosters)
	}

	hub.Join("conn-b", "doc-1", "write")
	hub.Rooms()

	joined := a.recorded(EventUserJoined)
	if len(joined) != 1 {
		t.Fatalf("alice received %d user-joined notices, want 1", len(joined))
	}
	if notice := joined[0].Data.(PresenceNotice); notice.UserID != "user-b" || notice.Username != "bob" {
		t.Fatalf("unexpected join notice: %+v", notice)
	}

	rosters = b.recorded(EventDocumentUsers)
	if len(rosters) != 1 {
		t.Fatalf("bob received %d rosters, want 1", len(rosters))
	}
	roster := rosters[0].Data.([]Member)
	if len(roster) != 1 || roster[0].UserID != "user-a" {
		t.Fatalf("bob's roster should list alice only, got %+v", roster)
	}

	hub.Change("conn-a", "doc-1", "X")
	hub.Unregister("conn-a")
	hub.Rooms()

	changes := b.recorded(EventDocumentChange)
	if len(changes) != 1 || changes[0].Data.(ChangeBroadcast).Content != "X" {
		t.Fatalf("bob should have received change X, got %+v", changes)
	}
	left := b.recorded(EventUserLeft)
	if len(left) != 1 || left[0].Data.(PresenceNotice).UserID != "user-a" {
		t.Fatalf("bob should have received user-left for alice, got %+v", left)
	}
	rooms := hub.Rooms()
	if len(rooms["doc-1"]) != 1 || rooms["doc-1"][0].UserID != "user-b" {
		t.Fatalf("room should contain bob only, got %+v", rooms)
	}
}

func TestCursorBroadcastRequiresMembership(t *testing.T) {
	hub := startHub(t, newFakeSaver(), time.Second)

	a, b := &fakeConn{}, &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Register("conn-b", b, "user-b", "bob")
	hub.Join("conn-a", "doc-1", "write")
	hub.Join("conn-b", "doc-1", "write")

	hub.Cursor("conn-a", "doc-1", CursorRange{Start: 3, End: 7})
	hub.Rooms()

	got := b.recorded(EventCursorPosition)
	if len(got) != 1 {
		t.Fatalf("bob received %d cursor events, want 1", len(got))
	}
	cursor := got[0].Data.(CursorBroadcast)
	if cursor.UserID != "user-a" || cursor.Position.Start != 3 || cursor.Position.End != 7 {
		t.Fatalf("unexpected cursor broadcast: %+v", cursor)
	}
	if len(a.recorded(EventCursorPosition)) != 0 {
		t.Fatal("cursor echoed back to its sender")
	}

	// Cursor updates from a connection outside the room are dropped.
	hub.Leave("conn-a", "doc-1")
	hub.Cursor("conn-a", "doc-1", CursorRange{Start: 1, End: 1})
	hub.Rooms()
	if got := b.recorded(EventCursorPosition); len(got) != 1 {
		t.Fatalf("non-member cursor update was relayed: %+v", got)
	}
}

func TestRapidEditsCoalesceIntoOneSave(t *testing.T) {
	saver := newFakeSaver()
	hub := startHub(t, saver, 40*time.Millisecond)

	a, b := &fakeConn{}, &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Register("conn-b", b, "user-b", "bob")
	hub.Join("conn-a", "doc-1", "write")
	hub.Join("conn-b", "doc-1", "write")

	for _, content := range []string{"d", "dr", "dra", "draft"} {
		hub.Change("conn-a", "doc-1", content)
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return len(saver.snapshots()) == 1 })
	// Give a stray second save a chance to land before asserting.
	time.Sleep(100 * time.Millisecond)

	saves := saver.snapshots()
	if len(saves) != 1 {
		t.Fatalf("expected exactly one durable save, got %d", len(saves))
	}
	if saves[0].Content != "draft" || saves[0].AuthorID != "user-a" || saves[0].Version != 1 {
		t.Fatalf("unexpected snapshot: %+v", saves[0])
	}

	// Every change was still broadcast live.
	if got := b.recorded(EventDocumentChange); len(got) != 4 {
		t.Fatalf("bob received %d live changes, want 4", len(got))
	}
	// The editor was told about the save.
	waitFor(t, time.Second, func() bool { return len(a.recorded(EventDocumentSaved)) == 1 })
}

func TestEditsAcrossQuietPeriodsSaveSeparately(t *testing.T) {
	saver := newFakeSaver()
	hub := startHub(t, saver, 30*time.Millisecond)

	a := &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Join("conn-a", "doc-1", "write")

	hub.Change("conn-a", "doc-1", "first")
	waitFor(t, time.Second, func() bool { return len(saver.snapshots()) == 1 })

	hub.Change("conn-a", "doc-1", "second")
	waitFor(t, time.Second, func() bool { return len(saver.snapshots()) == 2 })

	saves := saver.snapshots()
	if saves[0].Version != 1 || saves[1].Version != 2 {
		t.Fatalf("versions should increase by 1: %+v", saves)
	}
	if saves[0].Content != "first" || saves[1].Content != "second" {
		t.Fatalf("unexpected snapshot contents: %+v", saves)
	}
}

func TestSaveFailureReportedToEditor(t *testing.T) {
	saver := newFakeSaver()
	saver.failing = true
	hub := startHub(t, saver, 20*time.Millisecond)

	a := &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Join("conn-a", "doc-1", "write")
	hub.Change("conn-a", "doc-1", "doomed")

	waitFor(t, time.Second, func() bool { return len(a.recorded(EventSaveError)) == 1 })

	failure := a.recorded(EventSaveError)[0].Data.(SaveFailure)
	if failure.DocumentID != "doc-1" {
		t.Fatalf("unexpected save failure payload: %+v", failure)
	}
	// No retry until the next edit.
	time.Sleep(100 * time.Millisecond)
	if got := a.recorded(EventSaveError); len(got) != 1 {
		t.Fatalf("expected a single failure report, got %d", len(got))
	}
}

func TestRoomDisposalFlushesPendingSave(t *testing.T) {
	saver := newFakeSaver()
	hub := startHub(t, saver, 10*time.Second) // timer would not fire on its own

	a := &fakeConn{}
	hub.Register("conn-a", a, "user-a", "alice")
	hub.Join("conn-a", "doc-1", "write")
	hub.Change("conn-a", "doc-1", "unsaved")
	hub.Unregister("conn-a")

	waitFor(t, time.Second, func() bool { return len(saver.snapshots()) == 1 })
	if saves := saver.snapshots(); saves[0].Content != "unsaved" {
		t.Fatalf("flush saved wrong content: %+v", saves)
	}
}
