package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tchatapp/tchat/internal/database"
	"github.com/tchatapp/tchat/internal/stats"
	"github.com/tchatapp/tchat/internal/testutil"
	"github.com/tchatapp/tchat/internal/types"
)

func Test_queueMessage(t *testing.T) {
	c := &Client{send: make(chan *ServerMessage, 1)}

	c.log = testutil.TestLogger(t)
	assert.True(t, c.queueMessage(NoErrOK(1, nil)), "expected message to be queued")

	// channel full
	assert.False(t, c.queueMessage(NoErrOK(2, nil)), "expected queue to report a full channel")
}

func Test_addRoom_getRoom_delRoom(t *testing.T) {
	c := newTestClient(types.Profile{Id: "u1"})
	cs := newTestChannelServer(t, &database.MockTchatRepository{}, &stats.MockStatsUpdater{})
	room := newTestRoom(t, cs, "room", false)

	assert.Nil(t, c.getRoom("room"), "expected no room before add")

	c.addRoom(room)
	assert.Equal(t, room, c.getRoom("room"), "expected room after add")

	c.delRoom("room")
	assert.Nil(t, c.getRoom("room"), "expected no room after delete")

	// deleting twice is harmless
	c.delRoom("room")
}

func Test_unsubscribeRoom_idempotent(t *testing.T) {
	c := newTestClient(types.Profile{Id: "u1"})

	// unsubscribing from a room the client never joined still succeeds
	c.unsubscribeRoom(&ClientMessage{
		BaseMessage: BaseMessage{Id: 9},
		Unsubscribe: &Unsubscribe{RoomKey: "never-joined"},
	})

	msgs := drain(c)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 200, msgs[0].Response.ResponseCode, "expected OK for unknown room")
	assert.Equal(t, 9, msgs[0].Id, "expected response to carry the request id")
}

func Test_forwardToRoom_unknownRoom(t *testing.T) {
	c := newTestClient(types.Profile{Id: "u1"})

	c.forwardToRoom(&ClientMessage{
		BaseMessage: BaseMessage{Id: 3},
		Publish:     &Publish{RoomKey: "nowhere", Text: "hi"},
	}, "nowhere")

	msgs := drain(c)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 404, msgs[0].Response.ResponseCode, "expected room not found")
}

func Test_leaveAllRooms_allowsRoomMapUpdatesWhileSending(t *testing.T) {
	c := newTestClient(types.Profile{Id: "u1"})
	cs := newTestChannelServer(t, &database.MockTchatRepository{}, &stats.MockStatsUpdater{})

	room := newTestRoom(t, cs, "room", false)
	c.addRoom(room)

	other := newTestRoom(t, cs, "other", false)
	c.addRoom(other)

	// Fill the leave channel so leaveAllRooms blocks mid-send. A room
	// handling a leave calls back into delRoom, which takes the write
	// lock, so the sends must not happen under roomsLock.
	for i := 0; i < cap(room.leaveChan); i++ {
		room.leaveChan <- &ClientMessage{}
	}
	for i := 0; i < cap(other.leaveChan); i++ {
		other.leaveChan <- &ClientMessage{}
	}

	done := make(chan struct{})
	go func() {
		c.leaveAllRooms()
		close(done)
	}()

	deleted := make(chan struct{})
	go func() {
		c.delRoom("other")
		close(deleted)
	}()

	select {
	case <-deleted:
	case <-time.After(time.Second):
		t.Fatal("delRoom blocked while leaveAllRooms was sending")
	}

	<-room.leaveChan
	<-other.leaveChan

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("leaveAllRooms did not finish after channels drained")
	}
}

func Test_stopClient_idempotent(t *testing.T) {
	c := newTestClient(types.Profile{Id: "u1"})

	c.stopClient()
	c.stopClient() // must not panic

	select {
	case <-c.stop:
	default:
		t.Fatal("expected stop channel to be closed")
	}
}
