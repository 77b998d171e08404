package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/tutor"
)

// MessageType identifies websocket and SSE payload variants.
type MessageType string

const (
	TypeAsk            MessageType = "ask"
	TypeStartRecording MessageType = "start_recording"
	TypeAudioChunk     MessageType = "audio_chunk"
	TypeStopRecording  MessageType = "stop_recording"
	TypeCancel         MessageType = "cancel"

	TypeStart          MessageType = "start"
	TypeToken          MessageType = "token"
	TypeDone           MessageType = "done"
	TypeError          MessageType = "error"
	TypeRecordingState MessageType = "recording_state"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Ask is a typed question. On the websocket the session ids come from the
// connection and the fields here are ignored when empty.
type Ask struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	VideoID   string      `json:"video_id,omitempty"`
	Language  string      `json:"language,omitempty"`
	Text      string      `json:"text"`
	RequestID string      `json:"request_id,omitempty"`
}

// StartRecording opens a capture. SampleRate defaults to 16000 when zero.
type StartRecording struct {
	Type       MessageType `json:"type"`
	Language   string      `json:"language,omitempty"`
	SampleRate int         `json:"sample_rate,omitempty"`
}

// AudioChunk carries PCM16LE mono samples. Voiced is the client's voice
// activity verdict; when absent the server measures the frame itself.
type AudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Voiced      *bool       `json:"voiced,omitempty"`
}

// PCM decodes the chunk payload.
func (c AudioChunk) PCM() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(c.PCM16Base64)
	if err != nil {
		return nil, fmt.Errorf("decode pcm16_base64: %w", err)
	}
	return pcm, nil
}

type StopRecording struct {
	Type MessageType `json:"type"`
}

type Cancel struct {
	Type MessageType `json:"type"`
}

type Start struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

type Token struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Text      string      `json:"text"`
}

type Done struct {
	Type        MessageType `json:"type"`
	RequestID   string      `json:"request_id"`
	Text        string      `json:"text"`
	Question    string      `json:"question,omitempty"`
	Language    string      `json:"language,omitempty"`
	Cached      bool        `json:"cached"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	AudioFormat string      `json:"audio_format,omitempty"`
	AudioError  string      `json:"audio_error,omitempty"`
}

type Error struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Reason    string      `json:"reason"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

type RecordingState struct {
	Type    MessageType `json:"type"`
	State   string      `json:"state"`
	Trigger string      `json:"trigger,omitempty"`
}

// Reasons that never come from the orchestrator stream.
const (
	ReasonBusy           = "busy"
	ReasonInvalidRequest = "invalid_request"
	ReasonRecording      = "recording_error"
)

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAsk:
		var msg Ask
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid ask: text is required")
		}
		return msg, nil
	case TypeStartRecording:
		var msg StartRecording
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	case TypeStopRecording:
		return StopRecording{Type: env.Type}, nil
	case TypeCancel:
		return Cancel{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// FromEvent converts an orchestrator event to its wire form.
func FromEvent(ev tutor.Event) (MessageType, any) {
	switch ev.Type {
	case tutor.EventStart:
		return TypeStart, Start{Type: TypeStart, RequestID: ev.RequestID}
	case tutor.EventChunk:
		return TypeToken, Token{Type: TypeToken, RequestID: ev.RequestID, Text: ev.Text}
	case tutor.EventDone:
		msg := Done{
			Type:       TypeDone,
			RequestID:  ev.RequestID,
			Text:       ev.Text,
			Question:   ev.Question,
			Language:   ev.Language,
			Cached:     ev.Cached,
			AudioError: ev.AudioError,
		}
		if ev.Audio != nil && len(ev.Audio.Audio) > 0 {
			msg.AudioBase64 = base64.StdEncoding.EncodeToString(ev.Audio.Audio)
			msg.AudioFormat = ev.Audio.Format
		}
		return TypeDone, msg
	default:
		return TypeError, Error{
			Type:      TypeError,
			RequestID: ev.RequestID,
			Reason:    string(ev.Reason),
			Message:   ev.Message,
			Retryable: ev.Retryable,
		}
	}
}
