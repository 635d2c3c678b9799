package connpager

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedCursor is returned for cursors that are not valid base64
	// encoded records or that were produced under another sort configuration.
	ErrMalformedCursor = errors.New("malformed cursor")
	// ErrFilterValueTooLong is returned for filter string values longer than MaxFilterValueLength.
	ErrFilterValueTooLong = errors.New("filter value too long")
	// ErrUnknownOperator is returned for filter operators outside the supported set.
	ErrUnknownOperator = errors.New("unknown filter operator")
	// ErrInvalidFilterValue is returned when a compound alias receives a value
	// without the sub-field one of its columns consumes.
	ErrInvalidFilterValue = errors.New("invalid filter value")
	// ErrUnknownSortField is returned when the requested sort field has no alias.
	ErrUnknownSortField = errors.New("unknown sort field")
	// ErrCannotFilterByParentKey is returned when a child connection filter
	// references the field that identifies the parent.
	ErrCannotFilterByParentKey = errors.New("cannot filter by parent key in a child connection")
	// ErrChildConnectionQueryFailed is matched by every *ChildConnectionQueryError.
	ErrChildConnectionQueryFailed = errors.New("child connection query failed")
)

// ChildConnectionQueryError carries the pivot expression of the batch whose
// query failed.
type ChildConnectionQueryError struct {
	Pivot string
	Err   error
}

func (e *ChildConnectionQueryError) Error() string {
	return fmt.Sprintf("%s (pivot %s): %v", ErrChildConnectionQueryFailed, e.Pivot, e.Err)
}

func (e *ChildConnectionQueryError) Unwrap() error {
	return e.Err
}

func (e *ChildConnectionQueryError) Is(target error) bool {
	return target == ErrChildConnectionQueryFailed
}
