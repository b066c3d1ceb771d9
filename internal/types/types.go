package types

import (
	"time"
)

// ContentType tags the payload variant of a message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentLocation ContentType = "location"
)

func (ct ContentType) Valid() bool {
	switch ct {
	case ContentText, ContentImage, ContentLocation:
		return true
	}
	return false
}

// Profile is the directory record for an account. Readable by every
// authenticated principal, writable only by its owner.
type Profile struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	Handle      string    `json:"handle"`
	PhoneNumber string    `json:"phone_number"`
	AvatarUrl   string    `json:"avatar_url"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Location is a shared geographic position carried by location messages.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Message struct {
	Id       string      `json:"id"`
	RoomKey  string      `json:"room_key"`
	SenderId string      `json:"sender_id"`
	Text     string      `json:"text"`
	Type     ContentType `json:"type"`
	ImageUrl string      `json:"image_url,omitempty"`
	Location *Location   `json:"location,omitempty"`
	MapUrl   string      `json:"map_url,omitempty"`
	// Time is the sender-local display time, e.g. "14:05". It is carried
	// verbatim and never interpreted.
	Time      string    `json:"time,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Group struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Members   []string  `json:"members,omitempty"`
}

// IsAdmin reports whether userId administers the group. Admin status is
// derived from creatorship, never stored separately.
func (g Group) IsAdmin(userId string) bool {
	return g.CreatedBy == userId
}
