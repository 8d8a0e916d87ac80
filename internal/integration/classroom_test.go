package integration

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"earshot/pkg/types"
)

// member is one connected participant as the server sees it.
type member struct {
	id     int64
	name   string
	role   string
	muted  bool
	raised bool

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (m *member) send(f *types.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// classroom is a scripted stand-in for the classroom service. It keeps
// a live roster, answers resync requests with a full snapshot, relays
// chat to everyone but the sender, and enforces the teacher-only rules
// for moderation frames.
type classroom struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	members map[int64]*member
}

func newClassroom(t *testing.T) *classroom {
	t.Helper()
	c := &classroom{members: make(map[int64]*member)}
	c.srv = httptest.NewServer(http.HandlerFunc(c.handleWS))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *classroom) url() string {
	return "ws" + strings.TrimPrefix(c.srv.URL, "http")
}

func (c *classroom) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := strconv.ParseInt(q.Get("participant_id"), 10, 64)
	if err != nil {
		http.Error(w, "bad participant_id", http.StatusBadRequest)
		return
	}
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m := &member{id: id, name: q.Get("name"), role: q.Get("role"), conn: conn}
	c.mu.Lock()
	c.members[m.id] = m
	c.mu.Unlock()
	c.broadcastExcept(m.id, &types.Frame{Type: types.FrameTypeJoined, ParticipantID: m.id, Name: m.name})

	c.readLoop(m)
}

func (c *classroom) readLoop(m *member) {
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if c.remove(m) {
				c.broadcastExcept(m.id, &types.Frame{Type: types.FrameTypeLeft, ParticipantID: m.id})
			}
			return
		}
		f, err := types.ParseFrame(data)
		if err != nil {
			continue
		}
		c.dispatch(m, f)
	}
}

func (c *classroom) dispatch(m *member, f *types.Frame) {
	switch f.Type {
	case types.FrameTypeResync:
		_ = m.send(&types.Frame{Type: types.FrameTypeSessionState, Participants: c.snapshot()})

	case types.FrameTypeChat:
		c.broadcastExcept(m.id, &types.Frame{
			Type:          types.FrameTypeChat,
			ParticipantID: m.id,
			Name:          m.name,
			Text:          f.Text,
		})

	case types.FrameTypeMuteSelf:
		if f.Muted == nil {
			return
		}
		c.setMuted(m.id, *f.Muted)
		c.broadcastAll(&types.Frame{Type: types.FrameTypeMuteChanged, ParticipantID: m.id, Muted: f.Muted})

	case types.FrameTypeRaiseHand:
		if f.Raised == nil {
			return
		}
		c.setRaised(m.id, *f.Raised)
		c.broadcastAll(&types.Frame{Type: types.FrameTypeHandRaised, ParticipantID: m.id, Raised: f.Raised})

	case types.FrameTypeMuteOther:
		if m.role != types.RoleTeacher || f.Muted == nil {
			return
		}
		c.setMuted(f.ParticipantID, *f.Muted)
		c.broadcastAll(&types.Frame{Type: types.FrameTypeMuteChanged, ParticipantID: f.ParticipantID, Muted: f.Muted})

	case types.FrameTypeKick:
		if m.role != types.RoleTeacher {
			return
		}
		c.kickMember(f.ParticipantID, "removed by the teacher")
	}
}

// remove takes a member out of the roster. It compares pointers, not
// ids, so a stale read loop cannot evict the member's reconnected
// replacement.
func (c *classroom) remove(m *member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[m.id] != m {
		return false
	}
	delete(c.members, m.id)
	return true
}

// kickMember tells the target it is out and drops it from the roster.
// The socket is left for the client to close, so the kicked frame is
// never raced by a close on the same connection.
func (c *classroom) kickMember(id int64, reason string) {
	c.mu.Lock()
	target := c.members[id]
	c.mu.Unlock()
	if target == nil {
		return
	}
	_ = target.send(&types.Frame{Type: types.FrameTypeKicked, Reason: reason})
	if c.remove(target) {
		c.broadcastExcept(id, &types.Frame{Type: types.FrameTypeLeft, ParticipantID: id})
	}
}

func (c *classroom) setMuted(id int64, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.members[id]; m != nil {
		m.muted = muted
	}
}

func (c *classroom) setRaised(id int64, raised bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.members[id]; m != nil {
		m.raised = raised
	}
}

func (c *classroom) snapshot() []types.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := make([]types.Participant, 0, len(c.members))
	for _, m := range c.members {
		parts = append(parts, types.Participant{ID: m.id, Name: m.name, Muted: m.muted, RaisedHand: m.raised})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	return parts
}

func (c *classroom) peers() []*member {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// Sends run outside the roster lock so one blocked socket cannot wedge
// the whole classroom.
func (c *classroom) broadcastExcept(exceptID int64, f *types.Frame) {
	for _, m := range c.peers() {
		if m.id == exceptID {
			continue
		}
		_ = m.send(f)
	}
}

func (c *classroom) broadcastAll(f *types.Frame) {
	for _, m := range c.peers() {
		_ = m.send(f)
	}
}

// sendTo delivers a frame to one participant directly, bypassing the
// relay rules. Tests use it to script server-originated traffic.
func (c *classroom) sendTo(t *testing.T, id int64, f *types.Frame) {
	t.Helper()
	c.mu.Lock()
	m := c.members[id]
	c.mu.Unlock()
	if m == nil {
		t.Fatalf("participant %d is not connected", id)
	}
	if err := m.send(f); err != nil {
		t.Fatalf("send to participant %d failed: %v", id, err)
	}
}

// dropConnection severs a participant's socket the way a network
// failure would: no kicked frame, no left broadcast.
func (c *classroom) dropConnection(id int64) {
	c.mu.Lock()
	m := c.members[id]
	delete(c.members, id)
	c.mu.Unlock()
	if m != nil {
		_ = m.conn.Close()
	}
}

// endSession tells every participant the session is over. Clients close
// their own sockets on the way out, which drains the roster through the
// usual read-loop cleanup.
func (c *classroom) endSession() {
	for _, m := range c.peers() {
		_ = m.send(&types.Frame{Type: types.FrameTypeSessionEnded})
	}
}

func (c *classroom) connected(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[id]
	return ok
}

func (c *classroom) memberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}
