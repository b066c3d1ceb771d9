package database

import (
	"database/sql"
	"time"
)

type Account struct {
	Id           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Profile struct {
	Id          string
	Name        string
	Handle      string
	PhoneNumber string
	AvatarUrl   string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Group struct {
	Id        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
	Members   []string
}

// IsAdmin reports whether userId administers the group.
// Admin status is derived from creatorship, never stored separately.
func (g Group) IsAdmin(userId string) bool {
	return g.CreatedBy == userId
}

type Message struct {
	Id          string
	Seq         int64
	RoomKey     string
	SenderId    string
	Text        string
	ContentType string
	ImageUrl    string
	Latitude    sql.NullFloat64
	Longitude   sql.NullFloat64
	MapUrl      string
	DisplayTime string
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Id           string
	Email        string
	PasswordHash string
	Name         string
	Handle       string
}

type UpdateProfileParams struct {
	Id          string
	Name        string
	Handle      string
	PhoneNumber string
	AvatarUrl   string
}

type CreateGroupParams struct {
	Id        string
	Name      string
	CreatedBy string
}
