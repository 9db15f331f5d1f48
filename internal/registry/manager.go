package registry

import (
	"context"
	"fmt"

	"github.com/zulandar/raceline/internal/models"
)

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Store         *Store
	SingleSession bool
}

// Manager applies session policy on top of the Store: the single active
// session rule and keeping at most one default record.
type Manager struct {
	store         *Store
	singleSession bool
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("registry: store is required")
	}
	return &Manager{store: opts.Store, singleSession: opts.SingleSession}, nil
}

// Store returns the underlying record store.
func (m *Manager) Store() *Store {
	return m.store
}

// CreateSession creates a record. With the single-session policy on, any
// existing active record is a conflict. The first record, or one created
// with IsDefault, becomes the only default.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOpts) (*models.WhatsAppSession, error) {
	var created *models.WhatsAppSession
	err := m.store.Transaction(ctx, func(tx *Store) error {
		active, err := tx.ListActive(ctx)
		if err != nil {
			return err
		}
		if m.singleSession && len(active) > 0 {
			return &ConflictError{Reason: ReasonSingleSession}
		}

		all, err := tx.List(ctx)
		if err != nil {
			return err
		}
		if len(all) == 0 {
			opts.IsDefault = true
		}
		if opts.IsDefault {
			if err := tx.ClearDefaultExcept(ctx, 0); err != nil {
				return err
			}
		}

		created, err = tx.Create(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateSession applies a partial update. Setting IsDefault moves the
// default flag to this record.
func (m *Manager) UpdateSession(ctx context.Context, id uint, opts UpdateOpts) (*models.WhatsAppSession, error) {
	var updated *models.WhatsAppSession
	err := m.store.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.Get(ctx, id); err != nil {
			return err
		}
		if opts.IsDefault != nil && *opts.IsDefault {
			if err := tx.ClearDefaultExcept(ctx, id); err != nil {
				return err
			}
		}
		var err error
		updated, err = tx.Update(ctx, id, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSession removes a record and returns it so the caller can stop the
// matching runtime session.
func (m *Manager) DeleteSession(ctx context.Context, id uint) (*models.WhatsAppSession, error) {
	return m.store.Delete(ctx, id)
}
