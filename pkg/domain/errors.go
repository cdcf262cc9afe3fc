package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Error taxonomy. Only ErrInvalidInput is ever surfaced to callers; the
// others are recovered inside the component that hit them and recorded.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrToolFailure      = errors.New("evidence tool failure")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrUnparsableOutput = errors.New("unparsable model output")
)

const (
	// MaxComplaintLength bounds complaint size in characters
	MaxComplaintLength = 5000
	maxCustomerIDLen   = 50
)

var customerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateRequest normalizes and validates an inbound request. It must run
// before the engine is invoked; failures wrap ErrInvalidInput.
func ValidateRequest(req *ReplyRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidInput)
	}

	req.Complaint = strings.TrimSpace(req.Complaint)
	if req.Complaint == "" {
		return fmt.Errorf("%w: complaint cannot be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.Complaint) > MaxComplaintLength {
		return fmt.Errorf("%w: complaint cannot exceed %d characters", ErrInvalidInput, MaxComplaintLength)
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID != "" {
		if len(req.CustomerID) > maxCustomerIDLen {
			return fmt.Errorf("%w: customer_id cannot exceed %d characters", ErrInvalidInput, maxCustomerIDLen)
		}
		if !customerIDPattern.MatchString(req.CustomerID) {
			return fmt.Errorf("%w: customer_id contains invalid characters", ErrInvalidInput)
		}
	}

	switch Priority(strings.ToLower(string(req.Priority))) {
	case "", PriorityNormal:
		req.Priority = PriorityNormal
	case PriorityHigh:
		req.Priority = PriorityHigh
	default:
		return fmt.Errorf("%w: priority must be one of: normal, high", ErrInvalidInput)
	}

	return nil
}
