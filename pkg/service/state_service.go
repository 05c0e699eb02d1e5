// Local client state persisted across restarts (session, UI selection,
// preference snapshot). Everything here is a cache of convenience: the remote
// tables stay authoritative and this database can be deleted at any time.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SessionRecord stores the authenticated session for silent restore.
type SessionRecord struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64"`
	Email     string `gorm:"size:255"`
	Token     string `gorm:"size:512"`
	UpdatedAt time.Time
}

// UIStateRecord stores small cross-restart UI selections.
type UIStateRecord struct {
	ID                  uint   `gorm:"primaryKey"`
	CurrentConversation string `gorm:"size:64"`
	UpdatedAt           time.Time
}

// PrefsSnapshotRecord caches the last reconciled preference document so the
// client starts with the user's look and feel before the first remote load.
type PrefsSnapshotRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Document   []byte `gorm:"type:blob"`
	LastSynced time.Time
}

// CollectionSnapshotRecord caches one remote collection's last known content
// (email drafts, templates, sent log) keyed by collection name.
type CollectionSnapshotRecord struct {
	Collection string `gorm:"primaryKey;size:64"`
	Document   []byte `gorm:"type:blob"`
	LastSynced time.Time
}

// StateService owns the local sqlite database.
type StateService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStateService opens (creating if needed) the sqlite file at dbPath.
func NewStateService(dbPath string) (*StateService, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", dbPath, err)
	}
	return &StateService{db: db, logger: utils.GetLogger()}, nil
}

// AutoMigrate creates the local tables.
func (s *StateService) AutoMigrate() error {
	return s.db.AutoMigrate(&SessionRecord{}, &UIStateRecord{}, &PrefsSnapshotRecord{}, &CollectionSnapshotRecord{})
}

// SaveSession persists the session as the single row.
func (s *StateService) SaveSession(session *backend.Session) error {
	rec := SessionRecord{ID: 1, UserID: session.UserID, Email: session.Email, Token: session.Token}
	return s.db.Save(&rec).Error
}

// LoadSession returns the stored session, or nil when none exists.
func (s *StateService) LoadSession() (*backend.Session, error) {
	var rec SessionRecord
	if err := s.db.First(&rec, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Token == "" {
		return nil, nil
	}
	return &backend.Session{UserID: rec.UserID, Email: rec.Email, Token: rec.Token}, nil
}

// ClearSession forgets the stored session.
func (s *StateService) ClearSession() error {
	return s.db.Delete(&SessionRecord{}, 1).Error
}

// SaveCurrentConversation remembers the selected conversation record key.
func (s *StateService) SaveCurrentConversation(recordKey string) error {
	rec := UIStateRecord{ID: 1, CurrentConversation: recordKey}
	return s.db.Save(&rec).Error
}

// LoadCurrentConversation returns the remembered selection ("" when none).
func (s *StateService) LoadCurrentConversation() (string, error) {
	var rec UIStateRecord
	if err := s.db.First(&rec, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return rec.CurrentConversation, nil
}

// SaveCollectionSnapshot caches a collection's serialized content.
func (s *StateService) SaveCollectionSnapshot(collection string, doc json.RawMessage) error {
	rec := CollectionSnapshotRecord{Collection: collection, Document: doc, LastSynced: time.Now().UTC()}
	return s.db.Save(&rec).Error
}

// LoadCollectionSnapshot returns a cached collection document, nil when none.
func (s *StateService) LoadCollectionSnapshot(collection string) (json.RawMessage, time.Time, error) {
	var rec CollectionSnapshotRecord
	if err := s.db.First(&rec, "collection = ?", collection).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	return rec.Document, rec.LastSynced, nil
}

// SavePrefsSnapshot caches a preference document for the next cold start.
func (s *StateService) SavePrefsSnapshot(doc json.RawMessage) error {
	rec := PrefsSnapshotRecord{ID: 1, Document: doc, LastSynced: time.Now().UTC()}
	return s.db.Save(&rec).Error
}

// LoadPrefsSnapshot returns the cached document and when it was synced.
// A missing snapshot returns nil without error.
func (s *StateService) LoadPrefsSnapshot() (json.RawMessage, time.Time, error) {
	var rec PrefsSnapshotRecord
	if err := s.db.First(&rec, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	return rec.Document, rec.LastSynced, nil
}
