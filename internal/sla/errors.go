package sla

import (
	"errors"
	"fmt"
	"time"

	"github.com/idesk/helpdesk/internal/domain"
	apperrors "github.com/idesk/helpdesk/pkg/util"
)

var (
	// ErrInvalidStateTransition matches every rejected transition, clock skew included.
	ErrInvalidStateTransition = errors.New("invalid sla state transition")
	// ErrClockSkew matches resume/stop calls whose timestamp precedes the pause start.
	ErrClockSkew = fmt.Errorf("%w: clock skew", ErrInvalidStateTransition)
	// ErrPolicyNotFound is returned when a ticket's priority has no policy.
	ErrPolicyNotFound = errors.New("sla policy not found")
)

func invalidTransition(op string, from domain.SLAState) error {
	return apperrors.NewInvalidStateTransition(
		fmt.Sprintf("cannot %s sla clock in state %s", op, from),
		map[string]any{"operation": op, "state": string(from)},
		ErrInvalidStateTransition,
	)
}

func clockSkew(op string, pausedAt, now time.Time) error {
	return apperrors.NewClockSkew(
		fmt.Sprintf("cannot %s sla clock: timestamp precedes pause start", op),
		map[string]any{
			"operation":         op,
			"waiting_vendor_at": pausedAt,
			"now":               now,
		},
		ErrClockSkew,
	)
}

func policyNotFound(priority domain.TicketPriority) error {
	return apperrors.NewNotFoundWrap("sla policy", map[string]any{"priority": string(priority)}, ErrPolicyNotFound)
}
