// Package lifecycle validates campaign status transitions. It is pure: it
// computes the next status or rejects the event, and never mutates the
// campaign it is given.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
)

// Event is a lifecycle command.
type Event string

const (
	EventActivate Event = "activate"
	EventPause    Event = "pause"
	EventCancel   Event = "cancel"
	EventFinalize Event = "finalize"
)

var events = []Event{EventActivate, EventPause, EventCancel, EventFinalize}

// ParseEvent converts raw input into an Event.
func ParseEvent(value string) (Event, error) {
	needle := Event(strings.ToLower(strings.TrimSpace(value)))
	for _, ev := range events {
		if ev == needle {
			return ev, nil
		}
	}
	return "", fmt.Errorf("invalid lifecycle event %q", value)
}

// Privileged reports whether the event requires the admin or creator.
// Finalize is open to anyone once the deadline has passed.
func (e Event) Privileged() bool {
	return e != EventFinalize
}

// Next returns the status c moves to when ev is applied by actor at now.
// Authorization is checked before any guard.
func Next(c *domain.Campaign, ev Event, actor domain.Address, now time.Time) (domain.Status, error) {
	if ev.Privileged() && !c.IsAdmin(actor) {
		return c.Status, apperr.Newf(apperr.CodeUnauthorized, "%s cannot %s campaign %s", actor, ev, c.Address)
	}
	if c.Status.Terminal() {
		return c.Status, invalid(c, ev, "campaign is "+c.Status.String())
	}

	switch ev {
	case EventActivate:
		return activate(c)
	case EventPause:
		return pause(c)
	case EventCancel:
		return cancel(c)
	case EventFinalize:
		return finalize(c, now)
	default:
		return c.Status, invalid(c, ev, "unknown event")
	}
}

func activate(c *domain.Campaign) (domain.Status, error) {
	switch c.Status {
	case domain.StatusPending, domain.StatusPaused:
		if c.Donation {
			return domain.StatusDonation, nil
		}
		return domain.StatusActive, nil
	case domain.StatusActive, domain.StatusDonation, domain.StatusSuccessful,
		domain.StatusFailed, domain.StatusCancelled:
		return c.Status, invalid(c, EventActivate, "campaign is "+c.Status.String())
	}
	return c.Status, invalid(c, EventActivate, "unknown status")
}

func pause(c *domain.Campaign) (domain.Status, error) {
	switch c.Status {
	case domain.StatusActive, domain.StatusDonation:
		return domain.StatusPaused, nil
	case domain.StatusPending, domain.StatusPaused, domain.StatusSuccessful,
		domain.StatusFailed, domain.StatusCancelled:
		return c.Status, invalid(c, EventPause, "campaign is "+c.Status.String())
	}
	return c.Status, invalid(c, EventPause, "unknown status")
}

func cancel(c *domain.Campaign) (domain.Status, error) {
	switch c.Status {
	case domain.StatusActive, domain.StatusPaused, domain.StatusDonation:
		if c.PaidOut {
			return c.Status, invalid(c, EventCancel, "funds already paid out")
		}
		return domain.StatusCancelled, nil
	case domain.StatusPending, domain.StatusSuccessful, domain.StatusFailed, domain.StatusCancelled:
		return c.Status, invalid(c, EventCancel, "campaign is "+c.Status.String())
	}
	return c.Status, invalid(c, EventCancel, "unknown status")
}

func finalize(c *domain.Campaign, now time.Time) (domain.Status, error) {
	if c.Donation {
		return c.Status, invalid(c, EventFinalize, "donation campaigns are never finalized")
	}
	switch c.Status {
	case domain.StatusActive, domain.StatusPaused:
		if !c.Expired(now) {
			return c.Status, invalid(c, EventFinalize, "deadline not reached")
		}
		if c.Raised.GreaterThanOrEqual(c.Goal) {
			return domain.StatusSuccessful, nil
		}
		return domain.StatusFailed, nil
	case domain.StatusPending, domain.StatusSuccessful, domain.StatusFailed,
		domain.StatusCancelled, domain.StatusDonation:
		return c.Status, invalid(c, EventFinalize, "campaign is "+c.Status.String())
	}
	return c.Status, invalid(c, EventFinalize, "unknown status")
}

func invalid(c *domain.Campaign, ev Event, reason string) error {
	return apperr.Newf(apperr.CodeInvalidTransition, "cannot %s campaign %s: %s", ev, c.Address, reason)
}
