package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tchatapp/tchat/internal/database"
	"github.com/tchatapp/tchat/internal/presence"
	"github.com/tchatapp/tchat/internal/rooms"
	"github.com/tchatapp/tchat/internal/stats"
)

const (
	MetricActiveConnections = "ActiveConnections"
	MetricActiveRooms       = "ActiveRooms"
	MetricMessagesSent      = "MessagesSent"
	MetricTypingEvents      = "TypingEvents"
)

type unloadRoomRequest struct {
	roomKey string
	deleted bool
}

// ChannelServer owns the live rooms and the set of connected clients. Every
// mutation of that state flows through its run loop.
type ChannelServer struct {
	log            *log.Logger
	db             database.TchatRepository
	typing         presence.TypingStore
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewChannelServer(logger *log.Logger, db database.TchatRepository, typing presence.TypingStore, su stats.StatsProvider) (*ChannelServer, error) {
	su.RegisterMetric(MetricActiveConnections)
	su.RegisterMetric(MetricActiveRooms)
	su.RegisterMetric(MetricMessagesSent)
	su.RegisterMetric(MetricTypingEvents)

	return &ChannelServer{
		log:            logger,
		db:             db,
		typing:         typing,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChannelServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection for %q", client.user.Id)
			cs.addClient(client)
			cs.stats.Incr(MetricActiveConnections)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection for %q", client.user.Id)
			cs.removeClient(client)
			cs.stats.Decr(MetricActiveConnections)
		case req := <-cs.unloadRoomChan:
			if r, ok := cs.rooms[req.roomKey]; ok {
				cs.unloadRoom(req.roomKey)
				r.exit <- exitReq{deleted: req.deleted}
				<-r.done
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				cs.log.Println("shutting down room", r.key)
				close(r.exit)
				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

// handleJoin routes a subscribe request to its room, loading the room first
// if it is not live. Room keys are validated here: a direct key must contain
// the caller, a group key must name a group the caller belongs to.
func (cs *ChannelServer) handleJoin(joinMsg *ClientMessage) {
	key := joinMsg.Subscribe.RoomKey

	if room, ok := cs.rooms[key]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.key)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	isGroup := !rooms.IsDirectKey(key)
	if isGroup {
		if _, err := cs.db.GetGroup(key); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
			} else {
				cs.log.Println("GetGroup:", err)
				joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id))
			}
			return
		}
	} else if !rooms.IsParticipant(key, joinMsg.UserId) {
		joinMsg.client.queueMessage(ErrPermissionDenied(joinMsg.Id))
		return
	}

	records, err := cs.db.GetMessages(key, 0, 0, 0)
	if err != nil {
		cs.log.Println("GetMessages:", err)
		joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id))
		return
	}

	room := newRoom(key, isGroup, cs, records)
	cs.rooms[key] = room
	cs.stats.Incr(MetricActiveRooms)
	room.joinChan <- joinMsg

	go room.start()
}

// UnloadRoom stops a live room. When deleted is true the room's subscribers
// are notified that the room itself is gone, not merely idle.
func (cs *ChannelServer) UnloadRoom(ctx context.Context, roomKey string, deleted bool) error {
	select {
	case cs.unloadRoomChan <- unloadRoomRequest{roomKey: roomKey, deleted: deleted}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("unload room %q: %w", roomKey, ctx.Err())
	}
}

func (cs *ChannelServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChannelServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChannelServer) unloadRoom(roomKey string) {
	if r, ok := cs.rooms[roomKey]; ok {
		cs.log.Printf("removing room %q", r.key)
		delete(cs.rooms, roomKey)
		cs.stats.Decr(MetricActiveRooms)
	}
}

func (cs *ChannelServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}

// typingTimeout bounds presence store calls issued from room loops so a slow
// store cannot stall message delivery.
const typingTimeout = 5 * time.Second
