package transport

import (
	"encoding/json"
	"time"
)

// Kind classifies every inbound frame exactly once at the transport
// boundary, so handlers never re-sniff payload shapes.
type Kind int

const (
	KindRaw Kind = iota
	KindScore
	KindPing
	KindPong
	KindAuthAck
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindScore:
		return "score"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindAuthAck:
		return "auth_ack"
	case KindEvent:
		return "event"
	default:
		return "raw"
	}
}

// ScoreUpdate is the scoring stream's shape: a live focus score keyed by
// session.
type ScoreUpdate struct {
	SessionID uint      `json:"session_id"`
	UserID    uint      `json:"user_id"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the closed union every inbound frame decodes into. Exactly
// one of Score/Payload/Raw is meaningful, selected by Kind.
type Envelope struct {
	Kind    Kind
	Type    string
	Score   *ScoreUpdate
	Payload json.RawMessage
	Raw     []byte
}

type probe struct {
	Type      string          `json:"type"`
	SessionID *uint           `json:"session_id"`
	UserID    uint            `json:"user_id"`
	Score     *float64        `json:"score"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode classifies one inbound frame. Score updates are recognized by
// their session_id/score pair; frames with a type discriminator become
// typed envelopes; anything else passes through untouched as raw.
func Decode(data []byte) Envelope {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return Envelope{Kind: KindRaw, Raw: data}
	}

	if p.SessionID != nil && p.Score != nil {
		return Envelope{
			Kind: KindScore,
			Score: &ScoreUpdate{
				SessionID: *p.SessionID,
				UserID:    p.UserID,
				Score:     *p.Score,
				Timestamp: p.Timestamp,
			},
		}
	}

	switch p.Type {
	case "":
		return Envelope{Kind: KindRaw, Raw: data}
	case "ping":
		return Envelope{Kind: KindPing, Type: p.Type}
	case "pong":
		return Envelope{Kind: KindPong, Type: p.Type}
	case "auth_ack":
		return Envelope{Kind: KindAuthAck, Type: p.Type}
	default:
		return Envelope{Kind: KindEvent, Type: p.Type, Payload: p.Payload}
	}
}
