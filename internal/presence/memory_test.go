package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryTypingStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTypingStore()

	users, err := store.TypingUsers(ctx, "room")
	assert.NoError(t, err)
	assert.Empty(t, users, "expected no typing users initially")

	assert.NoError(t, store.SetTyping(ctx, "room", "u1", true))
	assert.NoError(t, store.SetTyping(ctx, "room", "u2", true))

	users, err = store.TypingUsers(ctx, "room")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)

	// last write wins
	assert.NoError(t, store.SetTyping(ctx, "room", "u1", false))
	users, err = store.TypingUsers(ctx, "room")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2"}, users)

	// clearing an already-clear flag is a no-op
	assert.NoError(t, store.SetTyping(ctx, "room", "u1", false))
	assert.NoError(t, store.SetTyping(ctx, "other-room", "u3", false))

	assert.NoError(t, store.ClearRoom(ctx, "room"))
	users, err = store.TypingUsers(ctx, "room")
	assert.NoError(t, err)
	assert.Empty(t, users, "expected no typing users after clear")
}
