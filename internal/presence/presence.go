// Package presence tracks the ephemeral per-room typing flags. The signal is
// last-write-wins with no history: a flag is either set or it is not, and a
// later write unconditionally replaces an earlier one.
package presence

import "context"

type TypingStore interface {
	// SetTyping upserts the typing flag for userId in roomKey.
	SetTyping(ctx context.Context, roomKey, userId string, typing bool) error
	// TypingUsers returns the ids currently flagged as typing in roomKey.
	TypingUsers(ctx context.Context, roomKey string) ([]string, error)
	// ClearRoom drops all flags for roomKey.
	ClearRoom(ctx context.Context, roomKey string) error
}
