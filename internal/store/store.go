// Package store defines the document-style Record Store shared by the
// identity directory and the workspace registry.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"restylinchpin/internal/domain"
)

// Collection names a set of documents.
type Collection string

const (
	Users      Collection = "users"
	Workspaces Collection = "workspaces"
)

// Document is a field-keyed record. Values must be JSON-encodable.
type Document map[string]any

// Filter is a conjunction of field-equality tests. An empty filter matches every document.
type Filter map[string]any

// Patch sets fields on matched documents. A nil value removes the field.
type Patch map[string]any

// ErrNoDocument is returned by FindOne when nothing matches.
var ErrNoDocument = errors.New("no document")

// RecordStore is the persistence contract. Writes are visible to every read
// issued after they return; storage failures wrap domain.ErrStorage and are
// never retried.
type RecordStore interface {
	Insert(ctx context.Context, coll Collection, doc Document) error
	FindOne(ctx context.Context, coll Collection, filter Filter) (Document, error)
	FindAll(ctx context.Context, coll Collection, filter Filter) ([]Document, error)
	Update(ctx context.Context, coll Collection, filter Filter, patch Patch) (int, error)
	Remove(ctx context.Context, coll Collection, filter Filter) (int, error)
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateField rejects field names that cannot be used in a filter or patch.
func ValidateField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid field name %q", domain.ErrValidation, name)
	}
	return nil
}

// String returns the field as a string, or "" when absent or of another type.
func (d Document) String(field string) string {
	v, _ := d[field].(string)
	return v
}

// Bool returns the field as a bool, or false when absent.
func (d Document) Bool(field string) bool {
	v, _ := d[field].(bool)
	return v
}
