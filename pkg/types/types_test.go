package types

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestSessionHandle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		handle  SessionHandle
		wantErr error
	}{
		{
			name:    "valid student handle",
			handle:  SessionHandle{SessionID: 7, SelfID: 12, SelfName: "Asha", Role: RoleStudent},
			wantErr: nil,
		},
		{
			name:    "valid teacher handle",
			handle:  SessionHandle{SessionID: 7, SelfID: 1, SelfName: "Mr. Varga", Role: RoleTeacher},
			wantErr: nil,
		},
		{
			name:    "zero session id",
			handle:  SessionHandle{SessionID: 0, SelfID: 12, SelfName: "Asha", Role: RoleStudent},
			wantErr: ErrInvalidSessionID,
		},
		{
			name:    "negative self id",
			handle:  SessionHandle{SessionID: 7, SelfID: -3, SelfName: "Asha", Role: RoleStudent},
			wantErr: ErrInvalidSelfID,
		},
		{
			name:    "empty name",
			handle:  SessionHandle{SessionID: 7, SelfID: 12, SelfName: "", Role: RoleStudent},
			wantErr: ErrInvalidSelfName,
		},
		{
			name:    "name too long",
			handle:  SessionHandle{SessionID: 7, SelfID: 12, SelfName: strings.Repeat("a", 201), Role: RoleStudent},
			wantErr: ErrInvalidSelfName,
		},
		{
			name:    "unknown role",
			handle:  SessionHandle{SessionID: 7, SelfID: 12, SelfName: "Asha", Role: "observer"},
			wantErr: ErrInvalidRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.handle.Validate()
			if err != tt.wantErr {
				t.Errorf("SessionHandle.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionHandle_IsTeacher(t *testing.T) {
	teacher := SessionHandle{Role: RoleTeacher}
	student := SessionHandle{Role: RoleStudent}

	if !teacher.IsTeacher() {
		t.Error("Expected teacher handle to report IsTeacher")
	}
	if student.IsTeacher() {
		t.Error("Expected student handle not to report IsTeacher")
	}
}

func TestClampMicLevel(t *testing.T) {
	tests := []struct {
		name  string
		level float64
		want  float64
	}{
		{"in range", 0.42, 0.42},
		{"lower bound", 0, 0},
		{"upper bound", 1, 1},
		{"below range", -0.5, 0},
		{"above range", 3.2, 1},
		{"NaN collapses to zero", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampMicLevel(tt.level); got != tt.want {
				t.Errorf("ClampMicLevel(%v) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"joined frame", `{"type":"joined","participant_id":3,"name":"Noor","muted":false,"raised":false}`, false},
		{"unknown type still parses", `{"type":"server_gossip"}`, false},
		{"truncated JSON", `{"type":"chat","text":"hel`, true},
		{"not an object", `[1,2,3]`, true},
		{"missing type", `{"participant_id":3}`, true},
		{"blank type", `{"type":"   "}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Errorf("ParseFrame() error = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFrame() unexpected error: %v", err)
			}
			if frame.Type == "" {
				t.Error("ParseFrame() returned frame with empty type")
			}
		})
	}
}

func TestParseFrame_OptionalFieldsStayAbsent(t *testing.T) {
	// A left frame carries no muted/raised/level fields; the decoded
	// pointers must stay nil so absent is never mistaken for false.
	frame, err := ParseFrame([]byte(`{"type":"left","participant_id":9}`))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}
	if frame.Muted != nil || frame.Raised != nil || frame.Level != nil {
		t.Errorf("Expected optional fields to be nil, got muted=%v raised=%v level=%v",
			frame.Muted, frame.Raised, frame.Level)
	}

	frame, err = ParseFrame([]byte(`{"type":"mute_changed","participant_id":9,"muted":false}`))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}
	if frame.Muted == nil || *frame.Muted != false {
		t.Error("Expected explicit muted=false to decode as non-nil false")
	}
}

func TestFrame_EncodeOmitsAbsentFields(t *testing.T) {
	frame := &Frame{Type: FrameTypeResync}
	data, err := frame.Encode()
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	if string(data) != `{"type":"resync"}` {
		t.Errorf("Encode() = %s, want bare resync frame", data)
	}

	frame = &Frame{Type: FrameTypeMuteSelf, ParticipantID: 12, Muted: BoolPtr(false)}
	data, err = frame.Encode()
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	encoded := string(data)
	if !strings.Contains(encoded, `"muted":false`) {
		t.Errorf("Encode() = %s, expected explicit muted:false", encoded)
	}
	if strings.Contains(encoded, "raised") || strings.Contains(encoded, "level") {
		t.Errorf("Encode() = %s, expected absent fields to be omitted", encoded)
	}
}

func TestFrame_SessionStateRoundTrip(t *testing.T) {
	raw := `{"type":"session_state","participants":[` +
		`{"id":1,"name":"Mr. Varga","muted":false,"raised":false},` +
		`{"id":2,"name":"Asha","muted":true,"raised":true,"level":0.5}]}`

	frame, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFrame() unexpected error: %v", err)
	}
	if len(frame.Participants) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(frame.Participants))
	}
	if frame.Participants[1].MicLevel == nil || *frame.Participants[1].MicLevel != 0.5 {
		t.Errorf("Expected participant 2 level 0.5, got %v", frame.Participants[1].MicLevel)
	}
	if frame.Participants[0].MicLevel != nil {
		t.Error("Expected participant 1 level to stay nil")
	}
}
