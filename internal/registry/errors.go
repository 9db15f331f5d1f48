package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session record does not exist.
var ErrNotFound = errors.New("registry: session not found")

// Conflict reasons reported by ConflictError.
const (
	ReasonName          = "name"
	ReasonSessionID     = "session_id"
	ReasonSingleSession = "single_session"
)

// ConflictError reports a uniqueness or policy violation on create/update.
type ConflictError struct {
	Reason string
	Value  string
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ReasonSingleSession:
		return "registry: only one active WhatsApp session is allowed"
	case ReasonName:
		return fmt.Sprintf("registry: session name %q already exists", e.Value)
	case ReasonSessionID:
		return fmt.Sprintf("registry: session id %q already exists", e.Value)
	default:
		return "registry: conflict"
	}
}

// ValidationError reports a malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registry: %s %s", e.Field, e.Message)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// translateDuplicate maps driver duplicate-key errors to ConflictError for
// races that slip past the uniqueness pre-checks.
func translateDuplicate(err error, name, sessionID string) error {
	if err == nil {
		return nil
	}
	var msg string
	var myErr *mysql.MySQLError
	var sqErr sqlite3.Error
	switch {
	case errors.As(err, &myErr) && myErr.Number == 1062:
		msg = myErr.Message
	case errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		msg = sqErr.Error()
	default:
		return err
	}
	if strings.Contains(msg, "session_id") {
		return &ConflictError{Reason: ReasonSessionID, Value: sessionID}
	}
	return &ConflictError{Reason: ReasonName, Value: name}
}
