package database

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"citysnap-backend/internal/apperrors"
	"github.com/lib/pq"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrUserNotFound   = errors.New("user not found")
)

const uniqueViolation = pq.ErrorCode("23505")

// DuplicateKeyError is returned when an insert or update hits a unique constraint.
type DuplicateKeyError struct {
	Table      string
	Constraint string
	Column     string
	Err        error
}

func (e *DuplicateKeyError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("duplicate key on %s.%s (%s)", e.Table, e.Column, e.Constraint)
	}
	return fmt.Sprintf("duplicate key on %s (%s)", e.Table, e.Constraint)
}

func (e *DuplicateKeyError) Unwrap() error {
	return e.Err
}

// "Key (user_id)=(abc) already exists."
var detailKeyPattern = regexp.MustCompile(`^Key \(([^)]+)\)=`)

// classify maps driver errors onto the pipeline's failure kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrReportNotFound) || errors.Is(err, ErrUserNotFound) || errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		dup := &DuplicateKeyError{
			Table:      pqErr.Table,
			Constraint: pqErr.Constraint,
			Column:     pqErr.Column,
			Err:        err,
		}
		if dup.Column == "" {
			if m := detailKeyPattern.FindStringSubmatch(pqErr.Detail); m != nil {
				dup.Column = m[1]
			}
		}
		return apperrors.New(apperrors.KindConflict, op, dup)
	}

	return apperrors.Persistence(op, err)
}
