package identity

import (
	"strings"
	"sync"
	"time"
)

// ProviderAnonymous labels identities created through anonymous sign-in.
const ProviderAnonymous = "anon"

// Identity maps an anonymous session subject to its stable writer id.
type Identity struct {
	Provider   string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject    string    `gorm:"column:subject;primaryKey;size:190;not null"`
	WriterID   string    `gorm:"column:writer_id;size:190;not null;index"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing writer identities.
func (Identity) TableName() string {
	return "writer_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

// Session holds the writer identity of one client session. The id is empty
// until sign-in completes and stable for the session's lifetime afterwards.
type Session struct {
	mu       sync.RWMutex
	writerID string
}

// NewSession returns a session with no identity established.
func NewSession() *Session {
	return &Session{}
}

// Establish records the session's writer id. The first non-empty id wins;
// later calls are ignored so the id stays stable.
func (s *Session) Establish(writerID string) {
	trimmed := normalize(writerID)
	if trimmed == "" {
		return
	}
	s.mu.Lock()
	if s.writerID == "" {
		s.writerID = trimmed
	}
	s.mu.Unlock()
}

// CurrentWriterID returns the session's writer id, empty until established.
func (s *Session) CurrentWriterID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writerID
}
