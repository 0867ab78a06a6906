package domain

import "time"

// User is the owner of a queue, a focus state and tasks.
type User struct {
	ID        string
	Name      string
	Token     string
	IsActive  bool
	CreatedAt time.Time
}
