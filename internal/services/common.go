package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrLeadNotFound          = errors.New("lead not found")
	ErrClientNotFound        = errors.New("client not found")
	ErrCommunicationNotFound = errors.New("communication not found")
	ErrLeadLost              = errors.New("lead is marked as lost")
	ErrMandateNotReady       = errors.New("mandate has not been generated for this lead")
	ErrExternalAPI           = errors.New("external service error")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Page is an offset/limit window over a list query.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	return p
}

// likePattern builds a case-insensitive LIKE pattern usable on sqlite and postgres
// alike when matched against LOWER(column).
func likePattern(search string) string {
	return "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
}
