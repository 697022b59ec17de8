package domain

import (
	"fmt"
	"strings"
)

// Status is the approval state of a room.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusActive, StatusCompleted, StatusRejected}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", InvalidInput(fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected:
		return true
	case StatusPending, StatusActive:
		return false
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the approval graph.
//
//	PENDING -> ACTIVE | REJECTED | COMPLETED
//	ACTIVE  -> COMPLETED
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusRejected || to == StatusCompleted
	case StatusActive:
		return to == StatusCompleted
	case StatusCompleted, StatusRejected:
		return false
	}
	return false
}

// Label returns the human readable name of the status.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusActive:
		return "Active"
	case StatusCompleted:
		return "Completed"
	case StatusRejected:
		return "Rejected"
	}
	return "Unknown"
}

// Variant returns the badge style used to render the status.
func (s Status) Variant() string {
	switch s {
	case StatusPending:
		return "outline"
	case StatusActive:
		return "default"
	case StatusCompleted:
		return "secondary"
	case StatusRejected:
		return "destructive"
	}
	return "outline"
}
