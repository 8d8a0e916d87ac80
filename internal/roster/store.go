// Package roster tracks the live membership of one session. The store
// trusts the server completely: every remote update is applied verbatim,
// and local operations only ever pre-apply what the server is expected
// to confirm.
package roster

import (
	"sort"
	"sync"
	"time"

	"earshot/pkg/types"
)

// UpdateKind discriminates roster updates.
type UpdateKind string

const (
	UpdateJoined      UpdateKind = "joined"
	UpdateLeft        UpdateKind = "left"
	UpdateMuteChanged UpdateKind = "mute_changed"
	UpdateHandRaised  UpdateKind = "hand_raised"
	UpdateMicLevel    UpdateKind = "mic_level"
)

// Update is one authoritative roster change from the server. Build
// updates with the constructor functions so only the fields that belong
// to each kind are ever set.
type Update struct {
	Kind          UpdateKind
	ParticipantID int64
	Name          string
	Muted         bool
	Raised        bool
	Level         float64
}

func Joined(id int64, name string, muted, raised bool) Update {
	return Update{Kind: UpdateJoined, ParticipantID: id, Name: name, Muted: muted, Raised: raised}
}

func Left(id int64) Update {
	return Update{Kind: UpdateLeft, ParticipantID: id}
}

func MuteChanged(id int64, muted bool) Update {
	return Update{Kind: UpdateMuteChanged, ParticipantID: id, Muted: muted}
}

func HandRaised(id int64, raised bool) Update {
	return Update{Kind: UpdateHandRaised, ParticipantID: id, Raised: raised}
}

func MicLevel(id int64, level float64) Update {
	return Update{Kind: UpdateMicLevel, ParticipantID: id, Level: level}
}

// Mutations that arrive before their participant's joined frame wait in
// a per-id buffer for this long before they are discarded.
const defaultPendingWindow = 3 * time.Second

const maxPendingPerParticipant = 8

type pendingMutation struct {
	update  Update
	expires time.Time
}

// Store holds the roster for one session. Writes arrive from a single
// goroutine (the session loop); the mutex exists so render-side readers
// can take snapshots at any time.
type Store struct {
	mu            sync.RWMutex
	participants  map[int64]*types.Participant
	pending       map[int64][]pendingMutation
	pendingWindow time.Duration
}

// NewStore creates an empty roster store.
func NewStore() *Store {
	return &Store{
		participants:  make(map[int64]*types.Participant),
		pending:       make(map[int64][]pendingMutation),
		pendingWindow: defaultPendingWindow,
	}
}

// Apply performs one authoritative update. It reports whether the
// visible roster changed, so callers know when to re-render. Updates
// for unknown participants are held briefly in case their joined frame
// is still in flight; a left for an unknown id is simply ignored.
func (s *Store) Apply(u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpiredLocked(time.Now())

	switch u.Kind {
	case UpdateJoined:
		return s.upsertLocked(types.Participant{
			ID:         u.ParticipantID,
			Name:       u.Name,
			Muted:      u.Muted,
			RaisedHand: u.Raised,
		})
	case UpdateLeft:
		delete(s.pending, u.ParticipantID)
		if _, exists := s.participants[u.ParticipantID]; !exists {
			return false
		}
		delete(s.participants, u.ParticipantID)
		return true
	case UpdateMuteChanged, UpdateHandRaised, UpdateMicLevel:
		p, exists := s.participants[u.ParticipantID]
		if !exists {
			s.bufferLocked(u)
			return false
		}
		s.mutateLocked(p, u)
		return true
	default:
		return false
	}
}

// ApplyLocalMuted pre-applies a mute edit so the UI reflects the action
// before the server echoes it. Unknown ids are ignored.
func (s *Store) ApplyLocalMuted(id int64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, exists := s.participants[id]; exists {
		p.Muted = muted
	}
}

// ApplyLocalRaised pre-applies a hand state edit.
func (s *Store) ApplyLocalRaised(id int64, raised bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, exists := s.participants[id]; exists {
		p.RaisedHand = raised
	}
}

// ApplyLocalRemove pre-applies a kick.
func (s *Store) ApplyLocalRemove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, id)
	delete(s.pending, id)
}

// Resync merges a full server snapshot: every listed participant is
// overwritten wholesale, participants the snapshot does not mention are
// retained and left to later authoritative updates.
func (s *Store) Resync(participants []types.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range participants {
		if p.MicLevel != nil {
			clamped := types.ClampMicLevel(*p.MicLevel)
			p.MicLevel = &clamped
		}
		s.upsertLocked(p)
	}
}

// Get returns a copy of one participant.
func (s *Store) Get(id int64) (types.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.participants[id]
	if !exists {
		return types.Participant{}, false
	}
	return copyParticipant(*p), true
}

// Snapshot returns point-in-time copies of every participant, ordered
// by id. Later roster changes never show through a snapshot.
func (s *Store) Snapshot() []types.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, copyParticipant(*p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the current roster size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// Reset drops all participants and buffered mutations.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = make(map[int64]*types.Participant)
	s.pending = make(map[int64][]pendingMutation)
}

// upsertLocked overwrites or inserts, then replays any mutations that
// were waiting for this participant.
func (s *Store) upsertLocked(p types.Participant) bool {
	stored := copyParticipant(p)
	s.participants[p.ID] = &stored

	now := time.Now()
	for _, pm := range s.pending[p.ID] {
		if now.After(pm.expires) {
			continue
		}
		s.mutateLocked(&stored, pm.update)
	}
	delete(s.pending, p.ID)
	return true
}

func (s *Store) mutateLocked(p *types.Participant, u Update) {
	switch u.Kind {
	case UpdateMuteChanged:
		p.Muted = u.Muted
	case UpdateHandRaised:
		p.RaisedHand = u.Raised
	case UpdateMicLevel:
		level := types.ClampMicLevel(u.Level)
		p.MicLevel = &level
	}
}

func (s *Store) bufferLocked(u Update) {
	buffered := s.pending[u.ParticipantID]
	if len(buffered) >= maxPendingPerParticipant {
		buffered = buffered[1:]
	}
	s.pending[u.ParticipantID] = append(buffered, pendingMutation{
		update:  u,
		expires: time.Now().Add(s.pendingWindow),
	})
}

func (s *Store) pruneExpiredLocked(now time.Time) {
	for id, buffered := range s.pending {
		kept := buffered[:0]
		for _, pm := range buffered {
			if now.Before(pm.expires) {
				kept = append(kept, pm)
			}
		}
		if len(kept) == 0 {
			delete(s.pending, id)
		} else {
			s.pending[id] = kept
		}
	}
}

func copyParticipant(p types.Participant) types.Participant {
	if p.MicLevel != nil {
		level := *p.MicLevel
		p.MicLevel = &level
	}
	return p
}
