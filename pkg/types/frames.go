package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame types delivered by the server.
const (
	FrameTypeJoined        = "joined"
	FrameTypeLeft          = "left"
	FrameTypeMuteChanged   = "mute_changed"
	FrameTypeHandRaised    = "hand_raised"
	FrameTypeMicLevel      = "mic_level"
	FrameTypeChat          = "chat"
	FrameTypeSessionState  = "session_state"
	FrameTypeKicked        = "kicked"
	FrameTypeSessionEnded  = "session_ended"
	FrameTypeAudioSelected = "audio_selected"
	FrameTypeAudioPlay     = "audio_play"
	FrameTypeAudioPause    = "audio_pause"
)

// Frame types sent by the client. Chat is symmetric and reuses
// FrameTypeChat.
const (
	FrameTypeMuteSelf  = "mute_self"
	FrameTypeMuteOther = "mute_other"
	FrameTypeRaiseHand = "raise_hand"
	FrameTypeKick      = "kick"
	FrameTypeResync    = "resync"
)

// Frame is the single wire envelope: one JSON object per WebSocket text
// message, discriminated by Type. Boolean and numeric fields that can
// legitimately be false/zero are pointers so that absent and zero stay
// distinguishable.
type Frame struct {
	Type          string        `json:"type"`
	ParticipantID int64         `json:"participant_id,omitempty"`
	Name          string        `json:"name,omitempty"`
	Muted         *bool         `json:"muted,omitempty"`
	Raised        *bool         `json:"raised,omitempty"`
	Level         *float64      `json:"level,omitempty"`
	Text          string        `json:"text,omitempty"`
	Participants  []Participant `json:"participants,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	AudioID       int64         `json:"audio_id,omitempty"`
	Title         string        `json:"title,omitempty"`
	Speed         *float64      `json:"speed,omitempty"`
	Position      *float64      `json:"position,omitempty"`
}

// ParseFrame decodes one wire frame. Any payload that is not a JSON
// object carrying a non-empty "type" is reported as ErrMalformedFrame;
// unknown type strings parse fine and are the caller's to ignore.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(f.Type) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return &f, nil
}

// Encode renders the frame as its wire JSON.
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}
	return data, nil
}

// BoolPtr and Float64Ptr build optional frame fields.
func BoolPtr(v bool) *bool { return &v }

func Float64Ptr(v float64) *float64 { return &v }
