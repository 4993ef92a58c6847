package domain

import (
	"errors"
	"fmt"
	"strings"
)

// InvalidDocumentError reports a malformed definition or dataset document.
// It is fatal to the single operation and never retried.
type InvalidDocumentError struct {
	Reason string
}

func (e *InvalidDocumentError) Error() string {
	return "invalid document: " + e.Reason
}

// ConflictError reports that a record with the same name or id already
// exists with different content. It is surfaced to the caller and requires
// explicit resolution.
type ConflictError struct {
	Label string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is already stored with a different definition", e.Label)
}

// DuplicateRecordError reports a benign insert race: the record (or edge, or
// location) was concurrently created by another writer. The engine swallows
// it only at the points where "already present" is an acceptable outcome.
type DuplicateRecordError struct {
	Table  string
	Detail string
}

func (e *DuplicateRecordError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("duplicate %s record", e.Table)
	}
	return fmt.Sprintf("duplicate %s record: %s", e.Table, e.Detail)
}

// IsDuplicateRecord reports whether err is a DuplicateRecordError.
func IsDuplicateRecord(err error) bool {
	var dup *DuplicateRecordError
	return errors.As(err, &dup)
}

// UnknownMetadataTypeError reports a metadata type reference that resolves
// to nothing during product composition.
type UnknownMetadataTypeError struct {
	Ref any
}

func (e *UnknownMetadataTypeError) Error() string {
	return fmt.Sprintf("unknown metadata type: %v", e.Ref)
}

// UnknownProductError reports that a search named a product that is not
// registered.
type UnknownProductError struct {
	Name string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product: %s", e.Name)
}

// UnknownFieldError reports a query key which is not a declared search field
// of the product under compilation.
type UnknownFieldError struct {
	Name string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown search field: %s", e.Name)
}

// NoMatchingProductError reports a search whose field names match no
// registered product. It is surfaced before any store round trip.
type NoMatchingProductError struct {
	FieldNames []string
}

func (e *NoMatchingProductError) Error() string {
	return fmt.Sprintf("no product has fields: %s", strings.Join(e.FieldNames, ", "))
}
