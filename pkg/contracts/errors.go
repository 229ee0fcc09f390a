// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every backend. Use errors.Is to test for them;
// operations wrap them in a *TableError carrying the operation and table name.
var (
	ErrUseAfterClose = errors.New("table is closed")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidState  = errors.New("invalid state")
	ErrConfiguration = errors.New("configuration error")
	ErrUnsupported   = errors.New("unsupported by this backend")
	ErrValidation    = errors.New("validation error")
)

// TableError is returned by table and connection operations.
type TableError struct {
	Op    string
	Table string
	Err   error
}

func (e *TableError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Table, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// NewTableError wraps err with operation context. It returns nil for a nil
// error and does not re-wrap an error that already carries a TableError.
func NewTableError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var te *TableError
	if errors.As(err, &te) {
		return err
	}
	return &TableError{Op: op, Table: table, Err: err}
}

// IsNotFoundError reports whether err is, or wraps, ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExistsError reports whether err is, or wraps, ErrAlreadyExists.
func IsAlreadyExistsError(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsUnsupportedError reports whether err is, or wraps, ErrUnsupported.
func IsUnsupportedError(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsUseAfterCloseError reports whether err is, or wraps, ErrUseAfterClose.
func IsUseAfterCloseError(err error) bool {
	return errors.Is(err, ErrUseAfterClose)
}
