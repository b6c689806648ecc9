// Package storage defines the record store contract consumed by the
// service layer. Implementations live in subpackages; the service treats
// the store as a remote key-value mapping with no atomic counter primitive.
package storage

import (
	"context"
	"errors"

	"github.com/vadimbarashkov/shortlink/internal/models"
)

var (
	// ErrRecordNotFound is returned when no record exists for a short code.
	ErrRecordNotFound = errors.New("record not found")
	// ErrCodeExists is returned when a caller-supplied short code is
	// already taken.
	ErrCodeExists = errors.New("short code exists")
)

// RecordStore is the durable mapping from short code to URL record.
//
// Save is an upsert and overwrites any existing record for the same code;
// callers that must not overwrite probe Exists first. The window between an
// Exists check and a Save is not coordinated across concurrent requests;
// the last writer wins.
type RecordStore interface {
	// Save upserts the record keyed by its short code and returns the
	// stored record.
	Save(ctx context.Context, url *models.URL) (*models.URL, error)

	// Get retrieves the record for a short code, or ErrRecordNotFound.
	// Expiration is not checked here; the caller applies its own policy.
	Get(ctx context.Context, shortCode string) (*models.URL, error)

	// Exists reports whether a record exists for the short code. Used for
	// collision probing during code generation.
	Exists(ctx context.Context, shortCode string) (bool, error)

	// Delete removes the record for a short code, or returns
	// ErrRecordNotFound when there is none.
	Delete(ctx context.Context, shortCode string) error

	// IncrementStats folds a single visit into the record's counters.
	// Returns ErrRecordNotFound when the code is absent. The update is
	// read-modify-write and may lose increments under concurrent access.
	IncrementStats(ctx context.Context, shortCode string, visit models.Visit) error
}
