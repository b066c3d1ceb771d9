package server

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tchatapp/tchat/internal/database"
	"github.com/tchatapp/tchat/internal/rooms"
	"github.com/tchatapp/tchat/internal/types"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	deleted bool
}

// Room is the live projection of one message channel. It owns the ordered
// message list and republishes it wholesale to every subscriber after each
// append — subscribers replace, never merge.
type Room struct {
	key           string
	isGroup       bool
	cs            *ChannelServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	messages      []types.Message
	clients       map[*Client]struct{}
	userMap       map[string]map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once it has been empty for a while
	killTimer *time.Timer
	// exit signals the room to stop
	exit chan exitReq
	done chan struct{}
}

func newRoom(key string, isGroup bool, cs *ChannelServer, records []database.Message) *Room {
	messages := make([]types.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, messageFromRecord(rec))
	}

	return &Room{
		key:           key,
		isGroup:       isGroup,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		messages:      messages,
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[string]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.key)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			if msg.Publish != nil {
				r.handlePublish(msg)
			} else if msg.Typing != nil {
				r.handleTyping(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.key)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomKey: r.key}:
	default:
		r.log.Printf("unload channel full, retrying room %q later", r.key)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.key)
	if e.deleted {
		// tell all clients the room itself is gone
		r.broadcast(&ServerMessage{
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomKey: r.key},
			},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.key)
	}
	r.clientLock.Unlock()

	// drop any leftover typing flags, they must not outlive the room
	ctx, cancel := context.WithTimeout(context.Background(), typingTimeout)
	defer cancel()
	if err := r.cs.typing.ClearRoom(ctx, r.key); err != nil {
		r.log.Printf("clear typing for room %q: %v", r.key, err)
	}

	close(r.done)
}

// handleJoin admits a client, sends it the full current snapshot and the
// current typing state. Group rooms re-check membership on every join.
func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	if r.isGroup {
		member, err := r.cs.db.IsGroupMember(r.key, c.user.Id)
		if err != nil {
			r.log.Println("IsGroupMember:", err)
			r.resetTimerIfEmpty()
			c.queueMessage(ErrInternalError(join.Id))
			return
		}
		if !member {
			r.resetTimerIfEmpty()
			c.queueMessage(ErrPermissionDenied(join.Id))
			return
		}
	}

	r.addClient(c)
	c.queueMessage(NoErrOK(join.Id, nil))
	c.queueMessage(r.snapshotMessage())

	// deliver current typing flags so a late subscriber is not blind to
	// an in-progress signal
	ctx, cancel := context.WithTimeout(context.Background(), typingTimeout)
	defer cancel()
	typingUsers, err := r.cs.typing.TypingUsers(ctx, r.key)
	if err != nil {
		r.log.Printf("typing users for room %q: %v", r.key, err)
		return
	}
	for _, userId := range typingUsers {
		if userId == c.user.Id {
			continue
		}
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Typing: &TypingEvent{
				RoomKey: r.key,
				UserId:  userId,
				Typing:  true,
			},
		})
	}
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client
	r.removeClient(client)

	if leaveMsg.Unsubscribe != nil {
		// unsubscribe is idempotent, a second call gets the same answer
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	// force-clear the typing flag when the user's last connection leaves,
	// on every exit path, or the peer sees "typing" forever
	if r.userMap[client.user.Id] == nil {
		r.clearTyping(client.user.Id)
	}
}

// clearTyping unconditionally lowers userId's flag and tells the room.
func (r *Room) clearTyping(userId string) {
	ctx, cancel := context.WithTimeout(context.Background(), typingTimeout)
	defer cancel()
	if err := r.cs.typing.SetTyping(ctx, r.key, userId, false); err != nil {
		r.log.Printf("clear typing for %q in room %q: %v", userId, r.key, err)
	}

	r.broadcast(&ServerMessage{
		Typing: &TypingEvent{
			RoomKey: r.key,
			UserId:  userId,
			Typing:  false,
		},
	})
}

// handlePublish appends the message durably, then republishes the full
// ordered list to every subscriber. The sender gets no synchronous echo
// beyond the accept; its message arrives in the next snapshot like anyone
// else's.
func (r *Room) handlePublish(msg *ClientMessage) {
	pub := msg.Publish

	contentType := pub.Type
	if contentType == "" {
		contentType = types.ContentText
	}
	if !contentType.Valid() {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if r.isGroup {
		// membership may have changed since join
		member, err := r.cs.db.IsGroupMember(r.key, msg.UserId)
		if err != nil {
			r.log.Println("IsGroupMember:", err)
			msg.client.queueMessage(ErrInternalError(msg.Id))
			return
		}
		if !member {
			msg.client.queueMessage(ErrPermissionDenied(msg.Id))
			return
		}
	}

	record := database.Message{
		Id:          uuid.NewString(),
		RoomKey:     r.key,
		SenderId:    msg.UserId,
		Text:        pub.Text,
		ContentType: string(contentType),
		ImageUrl:    pub.ImageUrl,
		DisplayTime: pub.Time,
		CreatedAt:   msg.Timestamp,
	}
	if pub.Location != nil {
		record.Latitude = sql.NullFloat64{Float64: pub.Location.Latitude, Valid: true}
		record.Longitude = sql.NullFloat64{Float64: pub.Location.Longitude, Valid: true}
		record.MapUrl = rooms.MapURL(pub.Location.Latitude, pub.Location.Longitude)
	}

	record, err := r.cs.db.CreateMessage(record)
	if err != nil {
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.messages = append(r.messages, messageFromRecord(record))
	r.cs.stats.Incr(MetricMessagesSent)
	msg.client.queueMessage(NoErrAccepted(msg.Id))

	r.broadcast(r.snapshotMessage())

	// sending implies the keyboard went idle
	if r.typingUserCleared(msg.UserId) {
		r.clearTyping(msg.UserId)
	}
}

// typingUserCleared reports whether userId currently has a raised flag that
// should be lowered.
func (r *Room) typingUserCleared(userId string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), typingTimeout)
	defer cancel()
	users, err := r.cs.typing.TypingUsers(ctx, r.key)
	if err != nil {
		r.log.Printf("typing users for room %q: %v", r.key, err)
		return false
	}
	for _, id := range users {
		if id == userId {
			return true
		}
	}
	return false
}

// handleTyping upserts the last-write-wins flag and fans the change out to
// the other subscribers. The signal is non-critical: failures are logged,
// never surfaced.
func (r *Room) handleTyping(msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), typingTimeout)
	defer cancel()
	if err := r.cs.typing.SetTyping(ctx, r.key, msg.UserId, msg.Typing.Typing); err != nil {
		r.log.Printf("set typing for %q in room %q: %v", msg.UserId, r.key, err)
		return
	}

	r.cs.stats.Incr(MetricTypingEvents)

	r.broadcast(&ServerMessage{
		Typing: &TypingEvent{
			RoomKey: r.key,
			UserId:  msg.UserId,
			Typing:  msg.Typing.Typing,
		},
		SkipClient: msg.client,
	})
}

func (r *Room) snapshotMessage() *ServerMessage {
	// copy so a later append never races a client still serializing
	messages := make([]types.Message, len(r.messages))
	copy(messages, r.messages)

	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Snapshot: &Snapshot{
			RoomKey:  r.key,
			Messages: messages,
		},
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	r.log.Printf("removing client %q from room %q", c.user.Id, r.key)
	delete(r.clients, c)
	c.delRoom(r.key)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.key)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) resetTimerIfEmpty() {
	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	msg.Timestamp = Now()

	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}

func messageFromRecord(rec database.Message) types.Message {
	msg := types.Message{
		Id:        rec.Id,
		RoomKey:   rec.RoomKey,
		SenderId:  rec.SenderId,
		Text:      rec.Text,
		Type:      types.ContentType(rec.ContentType),
		ImageUrl:  rec.ImageUrl,
		MapUrl:    rec.MapUrl,
		Time:      rec.DisplayTime,
		Timestamp: rec.CreatedAt,
	}
	if rec.Latitude.Valid && rec.Longitude.Valid {
		msg.Location = &types.Location{
			Latitude:  rec.Latitude.Float64,
			Longitude: rec.Longitude.Float64,
		}
	}
	return msg
}
