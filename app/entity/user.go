package entity

import (
	"database/sql"
	"time"
)

type User struct {
	ID           uint64
	Email        string
	Name         string
	PasswordHash string
	IsVerified   bool
	RefreshToken sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
