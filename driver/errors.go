package driver

import "errors"

// Normalized driver errors. Executors wrap native errors with one of these so
// the store can classify failures without importing pgx or lib/pq.
var (
	// ErrNoRows is returned by Row.Scan when the query matched nothing.
	ErrNoRows = errors.New("no rows in result set")

	// ErrConflict covers serialization failures, deadlocks, lock timeouts
	// and unique violations.
	ErrConflict = errors.New("write conflict")

	// ErrUnavailable covers connection failures and admin shutdowns.
	ErrUnavailable = errors.New("database unavailable")
)

// SQLSTATE codes mapped to ErrConflict.
var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"23505": true, // unique_violation
}

// ClassifyCode maps a SQLSTATE code to a normalized error, or nil.
func ClassifyCode(code string) error {
	if conflictCodes[code] {
		return ErrConflict
	}
	if len(code) == 5 && (code[:2] == "08" || code[:3] == "57P") {
		return ErrUnavailable
	}
	return nil
}
