// Package rooms derives and inspects room keys. A room key addresses a
// message channel: either a deterministic pairing of two account ids or a
// group id.
package rooms

import (
	"fmt"
	"strings"
)

const directKeySep = ":"

// DirectKey returns the room key for a 1:1 conversation between a and b.
// It is symmetric: DirectKey(a, b) == DirectKey(b, a), so both participants
// compute the same key independently without a lookup.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + directKeySep + b
}

// GroupKey returns the room key for a group. The group id already is the
// room key.
func GroupKey(groupId string) string {
	return groupId
}

// IsDirectKey reports whether key addresses a 1:1 room.
func IsDirectKey(key string) bool {
	return strings.Contains(key, directKeySep)
}

// ParseDirectKey splits a direct room key back into its two participant ids.
func ParseDirectKey(key string) (string, string, error) {
	a, b, ok := strings.Cut(key, directKeySep)
	if !ok || a == "" || b == "" {
		return "", "", fmt.Errorf("not a direct room key: %q", key)
	}
	return a, b, nil
}

// IsParticipant reports whether userId is one of the two parties of a direct
// room key.
func IsParticipant(key, userId string) bool {
	a, b, err := ParseDirectKey(key)
	if err != nil {
		return false
	}
	return userId == a || userId == b
}

// MapURL builds a maps link for a shared location, in the same form the
// mobile clients render.
func MapURL(latitude, longitude float64) string {
	return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%v,%v", latitude, longitude)
}
