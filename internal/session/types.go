package session

import (
	"fmt"
	"time"
)

// Key identifies a session: one per user and video.
type Key struct {
	UserID  string `json:"user_id"`
	VideoID string `json:"video_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.VideoID)
}

func (k Key) Valid() bool {
	return k.UserID != "" && k.VideoID != ""
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role     Role      `json:"role"`
	Modality string    `json:"modality"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Session is a point-in-time copy of a session's state.
type Session struct {
	ID             string    `json:"session_id"`
	Key            Key       `json:"key"`
	Language       string    `json:"language"`
	AudioEnabled   bool      `json:"audio_enabled"`
	History        []Turn    `json:"history"`
	ImageContexts  []string  `json:"image_contexts,omitempty"`
	Busy           bool      `json:"busy"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// RecentImageContexts returns up to n of the latest image descriptions.
func (s Session) RecentImageContexts(n int) []string {
	if n <= 0 || len(s.ImageContexts) == 0 {
		return nil
	}
	if n > len(s.ImageContexts) {
		n = len(s.ImageContexts)
	}
	return s.ImageContexts[len(s.ImageContexts)-n:]
}

// Defaults seed a lazily created session.
type Defaults struct {
	Language     string
	AudioEnabled bool
}

// Settings is a partial update; nil fields are left unchanged.
type Settings struct {
	Language     *string `json:"language,omitempty"`
	AudioEnabled *bool   `json:"audio_enabled,omitempty"`
}
