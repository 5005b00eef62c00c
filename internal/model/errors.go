package model

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	// ErrInvalidDataModel marks a data model that cannot be published: cyclic
	// measure dependencies, dangling references or unresolvable joins.
	ErrInvalidDataModel = errors.New("invalid data model")

	// ErrCubeNotFound is returned when a cube is not part of the catalog.
	ErrCubeNotFound = errors.New("cube not found")
)

// ValidationError represents one defect found while building a data model.
type ValidationError struct {
	Cube    string `json:"cube"`
	Member  string `json:"member,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("%s.%s: %s", e.Cube, e.Member, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Cube, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidDataModel.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidDataModel
}

// MultiValidationError aggregates multiple validation errors.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "invalid data model"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid data model: %s", strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is match ErrInvalidDataModel.
func (e *MultiValidationError) Unwrap() error {
	return ErrInvalidDataModel
}

// ValidationDetailer surfaces structured validation details for API error responses.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

// Details returns the structured fields from this single validation error.
func (e *ValidationError) Details() map[string]interface{} {
	d := map[string]interface{}{"cube": e.Cube}
	if e.Member != "" {
		d["member"] = e.Member
	}
	return d
}

// Details lists every offending member.
func (e *MultiValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	var members []string
	for _, ve := range e.Errors {
		if ve.Member != "" {
			members = append(members, MemberID(ve.Cube, ve.Member))
		} else {
			members = append(members, ve.Cube)
		}
	}
	if len(members) > 0 {
		d["members"] = members
	}
	return d
}

// Invalidf creates a validation error for a cube member.
func Invalidf(cube, member, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Cube:    cube,
		Member:  member,
		Message: fmt.Sprintf(format, args...),
	}
}

// Collect returns nil for an empty list, the single error for one entry,
// and a MultiValidationError otherwise.
func Collect(errs []*ValidationError) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return &MultiValidationError{Errors: errs}
	}
}
