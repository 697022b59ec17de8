package domain

import "time"

// RoleAgent is the role assigned to verification agents.
const RoleAgent = "agent"

// Agent is a verification agent that owns rooms.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
