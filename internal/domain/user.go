// Package domain contains core domain types for the assessment service.
package domain

import (
	"time"
)

// User is a child taking assessments. Identity is the (Name, Age) pair.
type User struct {
	ID        int64     `json:"user_id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	CreatedAt time.Time `json:"created_at"`
}

// SameIdentity reports whether u is the user identified by name and age.
func (u *User) SameIdentity(name string, age int) bool {
	return u.Name == name && u.Age == age
}
