package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a campaign.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusSuccessful
	StatusFailed
	StatusPaused
	StatusCancelled
	StatusDonation
)

var statusLabels = map[Status]string{
	StatusPending:    "pending",
	StatusActive:     "active",
	StatusSuccessful: "successful",
	StatusFailed:     "failed",
	StatusPaused:     "paused",
	StatusCancelled:  "cancelled",
	StatusDonation:   "donation",
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Terminal reports whether no further lifecycle transitions leave the status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusFailed
}

// AcceptsContributions reports whether funds may be recorded in this status.
func (s Status) AcceptsContributions() bool {
	return s == StatusActive || s == StatusDonation
}

func (s Status) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Code is the numeric encoding used by the ledger contract and dashboard.
func (s Status) Code() int {
	return int(s)
}

// MarshalText encodes the status as its label.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status label.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a label into a Status.
func ParseStatus(value string) (Status, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	for status, label := range statusLabels {
		if label == needle {
			return status, nil
		}
	}
	return 0, fmt.Errorf("invalid campaign status %q", value)
}

// StatusFromCode converts the contract's numeric status.
func StatusFromCode(code int) (Status, error) {
	if code < 0 || code > int(StatusDonation) {
		return 0, fmt.Errorf("invalid campaign status code %d", code)
	}
	return Status(code), nil
}
