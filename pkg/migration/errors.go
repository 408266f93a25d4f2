package migration

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes that stop a run before or during
// batch execution. Per-migration statement failures are not returned as
// errors; they are recorded in the Report as StatusFailed outcomes.
var (
	// ErrSourceUnavailable is returned when the migrations directory cannot be
	// listed (missing, not a directory, permission denied).
	ErrSourceUnavailable = errors.New("strata: migration source unavailable")

	// ErrDefinitionUnreadable is returned when a listed migration file cannot
	// be read. A listed-but-unreadable file means the directory changed or is
	// corrupt, so the whole run is aborted.
	ErrDefinitionUnreadable = errors.New("strata: migration definition unreadable")

	// ErrConfigurationInvalid is returned when required connection parameters
	// or selection options are missing or malformed.
	ErrConfigurationInvalid = errors.New("strata: invalid configuration")

	// ErrConnectionFailed is returned when no database connection could be
	// established for the batch.
	ErrConnectionFailed = errors.New("strata: database connection failed")

	// ErrLockUnavailable is returned when the advisory lock guarding the batch
	// could not be acquired.
	ErrLockUnavailable = errors.New("strata: migration lock unavailable")
)

// IsSourceUnavailableErr returns true if err is or wraps ErrSourceUnavailable.
func IsSourceUnavailableErr(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsDefinitionUnreadableErr returns true if err is or wraps ErrDefinitionUnreadable.
func IsDefinitionUnreadableErr(err error) bool {
	return errors.Is(err, ErrDefinitionUnreadable)
}

// IsConfigurationInvalidErr returns true if err is or wraps ErrConfigurationInvalid.
func IsConfigurationInvalidErr(err error) bool {
	return errors.Is(err, ErrConfigurationInvalid)
}

// IsConnectionFailedErr returns true if err is or wraps ErrConnectionFailed.
func IsConnectionFailedErr(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// StatementError is the structured failure produced by an Executor when a
// migration body fails to apply. SQLState is empty when the driver does not
// expose one.
type StatementError struct {
	Name     string
	SQLState string
	Err      error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("applying %s: %v", e.Name, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}
