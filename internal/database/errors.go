package database

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrForeignKey      = errors.New("foreign key constraint failed")
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
	ErrCheckConstraint = errors.New("check constraint failed")
	ErrBusy            = errors.New("database is busy")
)

// ConstraintError describes a SQLite constraint failure in terms of the
// table and column involved.
type ConstraintError struct {
	Type    string
	Table   string
	Column  string
	Message string
	Cause   error
	Raw     error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() []error {
	return []error{e.Cause, e.Raw}
}

var (
	fkPattern     = regexp.MustCompile(`FOREIGN KEY constraint failed`)
	uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s,]+)`)
	primaryKey    = regexp.MustCompile(`constraint failed: ([^\s,]+)\.id\b`)
	notNullRegex  = regexp.MustCompile(`NOT NULL constraint failed: ([^\s]+)`)
	checkRegex    = regexp.MustCompile(`CHECK constraint failed: ?(\S*)`)
	busyRegex     = regexp.MustCompile(`database is locked|SQLITE_BUSY`)
)

// ClassifyError turns driver error text into a ConstraintError when it
// reports a constraint failure, and returns err unchanged otherwise.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if fkPattern.MatchString(errStr) {
		return &ConstraintError{
			Type:    "foreign_key",
			Cause:   ErrForeignKey,
			Raw:     err,
			Message: "referenced row does not exist",
		}
	}

	if matches := uniquePattern.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Raw:     err,
			Message: "a row with this value already exists",
		}
		if table, column, ok := strings.Cut(matches[1], "."); ok {
			ce.Table = table
			ce.Column = column
			ce.Message = "a " + table + " row with this " + column + " already exists"
		}
		return ce
	}

	if matches := notNullRegex.FindStringSubmatch(errStr); len(matches) == 2 {
		ce := &ConstraintError{
			Type:    "not_null",
			Cause:   ErrNotNull,
			Raw:     err,
			Message: "required column is missing",
		}
		if table, column, ok := strings.Cut(matches[1], "."); ok {
			ce.Table = table
			ce.Column = column
			ce.Message = table + "." + column + " is required"
		}
		return ce
	}

	if matches := checkRegex.FindStringSubmatch(errStr); matches != nil {
		ce := &ConstraintError{
			Type:    "check",
			Cause:   ErrCheckConstraint,
			Raw:     err,
			Message: "value does not meet column requirements",
		}
		if len(matches) == 2 && matches[1] != "" {
			ce.Column = matches[1]
		}
		return ce
	}

	return err
}

func IsUniqueError(err error) bool {
	return errors.Is(ClassifyError(err), ErrUniqueViolation)
}

// IsPrimaryKeyConflict reports whether err is a unique violation on an id
// column, as opposed to some other unique index.
func IsPrimaryKeyConflict(err error) bool {
	if !IsUniqueError(err) {
		return false
	}
	return primaryKey.MatchString(err.Error())
}

func IsForeignKeyError(err error) bool {
	return errors.Is(ClassifyError(err), ErrForeignKey)
}

// IsBusy reports whether err is SQLite lock contention that outlasted the
// busy timeout.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBusy) || busyRegex.MatchString(err.Error())
}
