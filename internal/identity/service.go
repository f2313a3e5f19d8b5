package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidSubject indicates the sign-in request carried no usable subject.
var ErrInvalidSubject = errors.New("identity: invalid subject")

// ServiceConfig describes the dependencies required for writer identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service hands out stable writer identifiers for anonymous sessions. A
// subject seen before resolves to its existing writer id; an unseen subject
// gets a fresh one persisted for later visits.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// NewSubject mints a fresh anonymous subject for a client that has never
// signed in before.
func (s *Service) NewSubject() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Resolve returns the stable writer id for an anonymous subject, creating the
// identity mapping when the subject has not been seen before.
func (s *Service) Resolve(ctx context.Context, subject string) (string, error) {
	trimmed := normalize(subject)
	if trimmed == "" {
		return "", ErrInvalidSubject
	}

	cacheKey := ProviderAnonymous + ":" + trimmed
	if cached, ok := s.cache.Load(cacheKey); ok {
		if writerID, ok := cached.(string); ok {
			return writerID, nil
		}
	}

	var record Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", ProviderAnonymous, trimmed).
		First(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = Identity{
			Provider:   ProviderAnonymous,
			Subject:    trimmed,
			WriterID:   trimmed,
			LastSeenAt: s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", ProviderAnonymous, trimmed).
			Update("last_seen_at", s.now()).
			Error
	}

	s.cache.Store(cacheKey, record.WriterID)
	return record.WriterID, nil
}
