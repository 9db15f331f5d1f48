// Package registry persists named WhatsApp session records and enforces the
// session policy rules (single active session, one default).
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zulandar/raceline/internal/models"
	"gorm.io/gorm"
)

var sessionIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

const (
	maxNameLen      = 100
	maxSessionIDLen = 64
)

// listOrder puts the default record first, then oldest first.
const listOrder = "is_default DESC, created_at ASC, id ASC"

// CreateOpts holds the fields for a new session record.
type CreateOpts struct {
	Name        string
	SessionID   string
	PhoneNumber string
	Description string
	IsActive    *bool // nil means active
	IsDefault   bool
}

// UpdateOpts holds a partial update. Nil fields are left unchanged.
type UpdateOpts struct {
	Name        *string
	SessionID   *string
	PhoneNumber *string
	Description *string
	IsActive    *bool
	IsDefault   *bool
}

// Store is the gorm-backed session registry.
type Store struct {
	db *gorm.DB
}

// New returns a Store over db. The whatsapp_sessions table must already exist.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn against a Store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ValidateSessionID checks the runtime key format.
func ValidateSessionID(id string) error {
	if id == "" {
		return &ValidationError{Field: "session_id", Message: "is required"}
	}
	if len(id) > maxSessionIDLen {
		return &ValidationError{Field: "session_id", Message: fmt.Sprintf("must be at most %d characters", maxSessionIDLen)}
	}
	if !sessionIDPattern.MatchString(id) {
		return &ValidationError{Field: "session_id", Message: "must contain only lowercase letters, digits or underscore"}
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if len(name) > maxNameLen {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLen)}
	}
	return nil
}

// first runs q and returns nil (no error) when nothing matches.
func first(q *gorm.DB) (*models.WhatsAppSession, error) {
	var rec models.WhatsAppSession
	if err := q.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// FindDefaultActive returns the active default record, or nil.
func (s *Store) FindDefaultActive(ctx context.Context) (*models.WhatsAppSession, error) {
	rec, err := first(s.db.WithContext(ctx).Where("is_default = ? AND is_active = ?", true, true).Order("id ASC"))
	if err != nil {
		return nil, fmt.Errorf("registry: find default: %w", err)
	}
	return rec, nil
}

// FindActiveByName returns the active record with the given name, or nil.
func (s *Store) FindActiveByName(ctx context.Context, name string) (*models.WhatsAppSession, error) {
	rec, err := first(s.db.WithContext(ctx).Where("name = ? AND is_active = ?", name, true))
	if err != nil {
		return nil, fmt.Errorf("registry: find active %s: %w", name, err)
	}
	return rec, nil
}

// FindByName returns the record with the given name regardless of state, or nil.
func (s *Store) FindByName(ctx context.Context, name string) (*models.WhatsAppSession, error) {
	rec, err := first(s.db.WithContext(ctx).Where("name = ?", name))
	if err != nil {
		return nil, fmt.Errorf("registry: find %s: %w", name, err)
	}
	return rec, nil
}

// FindBySessionID returns the record keyed by the runtime session id, or nil.
func (s *Store) FindBySessionID(ctx context.Context, sessionID string) (*models.WhatsAppSession, error) {
	rec, err := first(s.db.WithContext(ctx).Where("session_id = ?", sessionID))
	if err != nil {
		return nil, fmt.Errorf("registry: find session %s: %w", sessionID, err)
	}
	return rec, nil
}

// Get returns the record with the given primary key or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uint) (*models.WhatsAppSession, error) {
	rec, err := first(s.db.WithContext(ctx).Where("id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("registry: get %d: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("registry: get %d: %w", id, ErrNotFound)
	}
	return rec, nil
}

// ListActive returns active records, default first then oldest first.
func (s *Store) ListActive(ctx context.Context) ([]models.WhatsAppSession, error) {
	var recs []models.WhatsAppSession
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order(listOrder).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("registry: list active: %w", err)
	}
	return recs, nil
}

// List returns every record in the same order as ListActive.
func (s *Store) List(ctx context.Context) ([]models.WhatsAppSession, error) {
	var recs []models.WhatsAppSession
	if err := s.db.WithContext(ctx).Order(listOrder).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	return recs, nil
}

// ClearDefaultExcept unsets is_default on every record other than id.
// Pass 0 to clear all.
func (s *Store) ClearDefaultExcept(ctx context.Context, id uint) error {
	q := s.db.WithContext(ctx).Model(&models.WhatsAppSession{}).Where("is_default = ?", true)
	if id != 0 {
		q = q.Where("id <> ?", id)
	}
	if err := q.Update("is_default", false).Error; err != nil {
		return fmt.Errorf("registry: clear default: %w", err)
	}
	return nil
}

// checkUnique reports a ConflictError when name or sessionID is used by a
// record other than selfID.
func (s *Store) checkUnique(ctx context.Context, selfID uint, name, sessionID *string) error {
	if name != nil {
		rec, err := s.FindByName(ctx, *name)
		if err != nil {
			return err
		}
		if rec != nil && rec.ID != selfID {
			return &ConflictError{Reason: ReasonName, Value: *name}
		}
	}
	if sessionID != nil {
		rec, err := s.FindBySessionID(ctx, *sessionID)
		if err != nil {
			return err
		}
		if rec != nil && rec.ID != selfID {
			return &ConflictError{Reason: ReasonSessionID, Value: *sessionID}
		}
	}
	return nil
}

// Create inserts a new record after validating and checking uniqueness.
// Default-flag bookkeeping is the Manager's job.
func (s *Store) Create(ctx context.Context, opts CreateOpts) (*models.WhatsAppSession, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if err := validateName(opts.Name); err != nil {
		return nil, err
	}
	if err := ValidateSessionID(opts.SessionID); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, 0, &opts.Name, &opts.SessionID); err != nil {
		return nil, err
	}

	active := true
	if opts.IsActive != nil {
		active = *opts.IsActive
	}
	rec := models.WhatsAppSession{
		Name:        opts.Name,
		SessionID:   opts.SessionID,
		PhoneNumber: opts.PhoneNumber,
		Description: opts.Description,
		IsActive:    active,
		IsDefault:   opts.IsDefault,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if cerr := translateDuplicate(err, opts.Name, opts.SessionID); IsConflict(cerr) {
			return nil, cerr
		}
		return nil, fmt.Errorf("registry: create %s: %w", opts.Name, err)
	}
	return &rec, nil
}

// Update applies a partial update and returns the stored record.
func (s *Store) Update(ctx context.Context, id uint, opts UpdateOpts) (*models.WhatsAppSession, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		opts.Name = &name
		updates["name"] = name
	}
	if opts.SessionID != nil {
		if err := ValidateSessionID(*opts.SessionID); err != nil {
			return nil, err
		}
		updates["session_id"] = *opts.SessionID
	}
	if opts.PhoneNumber != nil {
		updates["phone_number"] = *opts.PhoneNumber
	}
	if opts.Description != nil {
		updates["description"] = *opts.Description
	}
	if opts.IsActive != nil {
		updates["is_active"] = *opts.IsActive
	}
	if opts.IsDefault != nil {
		updates["is_default"] = *opts.IsDefault
	}
	if len(updates) == 0 {
		return rec, nil
	}
	if err := s.checkUnique(ctx, id, opts.Name, opts.SessionID); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.WhatsAppSession{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		name, sid := rec.Name, rec.SessionID
		if opts.Name != nil {
			name = *opts.Name
		}
		if opts.SessionID != nil {
			sid = *opts.SessionID
		}
		if cerr := translateDuplicate(err, name, sid); IsConflict(cerr) {
			return nil, cerr
		}
		return nil, fmt.Errorf("registry: update %d: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Delete removes the record and returns it.
func (s *Store) Delete(ctx context.Context, id uint) (*models.WhatsAppSession, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&models.WhatsAppSession{}, id).Error; err != nil {
		return nil, fmt.Errorf("registry: delete %d: %w", id, err)
	}
	return rec, nil
}

// MarkConnected mirrors the runtime connection flag onto the record keyed by
// sessionID. Unknown session ids are ignored.
func (s *Store) MarkConnected(ctx context.Context, sessionID string, connected bool) error {
	updates := map[string]interface{}{"is_connected": connected}
	if connected {
		updates["last_connected_at"] = time.Now()
	}
	if err := s.db.WithContext(ctx).Model(&models.WhatsAppSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("registry: mark %s connected=%v: %w", sessionID, connected, err)
	}
	return nil
}
