// Package analytics records named events as best-effort telemetry. Recording
// failures never reach the caller; the sink is not a correctness concern.
package analytics

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Event is a persisted analytics record.
type Event struct {
	EventID          string `gorm:"column:event_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:190;not null;index:idx_events_name_time,priority:1"`
	AttributesJSON   string `gorm:"column:attributes_json;type:text;not null;default:''"`
	RecordedAtMillis int64  `gorm:"column:recorded_at_ms;not null;index:idx_events_name_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "analytics_events"
}

// IDProvider issues identifiers for event records.
type IDProvider interface {
	NewID() (string, error)
}

// SinkConfig describes the dependencies of the event sink.
type SinkConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Sink writes events to the store, swallowing every failure.
type Sink struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewSink constructs the event sink.
func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.Database == nil {
		return nil, errors.New("analytics: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("analytics: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Record persists a named event with its attributes. It is fire-and-forget:
// failures are logged at debug level and otherwise discarded.
func (s *Sink) Record(eventName string, attributes map[string]string) {
	if eventName == "" {
		return
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Debug("analytics event dropped", zap.String("event", eventName), zap.Error(err))
		return
	}

	attrsJSON := ""
	if len(attributes) > 0 {
		encoded, err := json.Marshal(attributes)
		if err != nil {
			s.logger.Debug("analytics attributes dropped", zap.String("event", eventName), zap.Error(err))
		} else {
			attrsJSON = string(encoded)
		}
	}

	record := Event{
		EventID:          eventID,
		Name:             eventName,
		AttributesJSON:   attrsJSON,
		RecordedAtMillis: s.clock().UnixMilli(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		s.logger.Debug("analytics event dropped", zap.String("event", eventName), zap.Error(err))
	}
}
