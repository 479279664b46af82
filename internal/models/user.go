package models

import (
	"strings"
	"time"
)

// ActorKind distinguishes requesters from agents when both can author
// conversations or receive notifications.
type ActorKind string

const (
	ActorUser  ActorKind = "user"
	ActorAgent ActorKind = "agent"
)

// Actor is the tagged union over User and Agent. Only the fields shared by
// both capability surfaces are carried.
type Actor struct {
	Kind  ActorKind `json:"kind"`
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// UserActor builds an Actor from a requester record.
func UserActor(u *User) Actor {
	if u == nil {
		return Actor{Kind: ActorUser}
	}
	return Actor{Kind: ActorUser, ID: u.ID, Name: u.Name, Email: u.Email}
}

// AgentActor builds an Actor from an agent record.
func AgentActor(a *Agent) Actor {
	if a == nil {
		return Actor{Kind: ActorAgent}
	}
	return Actor{Kind: ActorAgent, ID: a.ID, Name: a.Name, Email: a.Email}
}

// User is a requester (customer contact).
type User struct {
	ID        string    `json:"id" db:"id"`
	AccountID int64     `json:"account_id" db:"account_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	CompanyID *int64    `json:"company_id,omitempty" db:"company_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Agent is a helpdesk operator who can be assigned tickets.
type Agent struct {
	ID        string    `json:"id" db:"id"`
	AccountID int64     `json:"account_id" db:"account_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	GroupID   *int64    `json:"group_id,omitempty" db:"group_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail lowercases and trims an address for matching.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
