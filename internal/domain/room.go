// Package domain contains core domain types for the vKYC desk.
package domain

import (
	"strings"
	"time"
)

// Room is one verification session between an agent and a customer.
type Room struct {
	ID                   string       `json:"id"`
	CustomerName         string       `json:"customer_name"`
	ApplicationID        string       `json:"application_id"`
	AgentID              string       `json:"agent_id"`
	Status               Status       `json:"status"`
	InviteToken          string       `json:"invite_token,omitempty"`
	IsCustomerOnline     bool         `json:"is_customer_online"`
	LastCustomerActivity *time.Time   `json:"last_customer_activity,omitempty"`
	IsRecording          bool         `json:"is_recording"`
	Notes                string       `json:"notes"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
	RecordingCount       int          `json:"recording_count"`
	Recordings           []*Recording `json:"recordings,omitempty"`
}

// HasInvite returns true if an invitation token has been issued.
func (r *Room) HasInvite() bool {
	return r.InviteToken != ""
}

// IsWaiting reports whether the customer is online in a session that can
// still be worked.
func (r *Room) IsWaiting() bool {
	return r.IsCustomerOnline && !r.Status.IsTerminal()
}

// CustomerView is the subset of a room shown to the invited customer.
type CustomerView struct {
	ID           string `json:"id"`
	CustomerName string `json:"customer_name"`
	Status       Status `json:"status"`
	IsTerminal   bool   `json:"is_terminal"`
}

// CustomerView projects the room for the customer side.
func (r *Room) CustomerView() CustomerView {
	return CustomerView{
		ID:           r.ID,
		CustomerName: r.CustomerName,
		Status:       r.Status,
		IsTerminal:   r.Status.IsTerminal(),
	}
}

// NewRoom holds the caller-supplied fields for room creation.
type NewRoom struct {
	CustomerName  string
	ApplicationID string
	AgentID       string
}

// Normalize trims surrounding whitespace from the business identifiers.
func (n NewRoom) Normalize() NewRoom {
	n.CustomerName = strings.TrimSpace(n.CustomerName)
	n.ApplicationID = strings.TrimSpace(n.ApplicationID)
	n.AgentID = strings.TrimSpace(n.AgentID)
	return n
}

// Validate checks the required creation fields.
func (n NewRoom) Validate() error {
	if n.CustomerName == "" {
		return InvalidInput("customer name is required")
	}
	if n.ApplicationID == "" {
		return InvalidInput("application id is required")
	}
	return nil
}

// Recording is one recorded time segment of a room. Metadata only.
type Recording struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"room_id"`
	FileURL   string     `json:"file_url"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// IsOpen returns true while the recording has not been stopped.
func (r *Recording) IsOpen() bool {
	return r.EndedAt == nil
}

// Duration returns the recorded length, or zero while still open.
func (r *Recording) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// DashboardCounts aggregates the agent dashboard tiles.
type DashboardCounts struct {
	Pending          int `json:"pending"`
	Active           int `json:"active"`
	Completed        int `json:"completed"`
	WaitingCustomers int `json:"waiting_customers"`
	RecordedSessions int `json:"recorded_sessions"`
}

// Tally computes dashboard counts over a room listing.
func Tally(rooms []*Room) DashboardCounts {
	var c DashboardCounts
	for _, r := range rooms {
		switch r.Status {
		case StatusPending:
			c.Pending++
		case StatusActive:
			c.Active++
		case StatusCompleted:
			c.Completed++
		case StatusRejected:
		}
		if r.IsWaiting() {
			c.WaitingCustomers++
		}
		if r.RecordingCount > 0 {
			c.RecordedSessions++
		}
	}
	return c
}
