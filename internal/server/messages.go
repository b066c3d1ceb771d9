package server

import (
	"net/http"
	"time"

	"github.com/tchatapp/tchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Publish     *Publish     `json:"publish,omitempty"`
	Typing      *Typing      `json:"typing,omitempty"`
	UserId      string       `json:"-"`
	client      *Client      `json:"-"`
}

type Subscribe struct {
	RoomKey string `json:"room_key"`
}

type Unsubscribe struct {
	RoomKey string `json:"room_key"`
}

type Publish struct {
	RoomKey  string            `json:"room_key"`
	Text     string            `json:"text"`
	Type     types.ContentType `json:"type"`
	ImageUrl string            `json:"image_url,omitempty"`
	Location *types.Location   `json:"location,omitempty"`
	// Time is the sender's local display time, carried through verbatim.
	Time string `json:"time,omitempty"`
}

type Typing struct {
	RoomKey string `json:"room_key"`
	Typing  bool   `json:"typing"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Snapshot     *Snapshot     `json:"snapshot,omitempty"`
	Typing       *TypingEvent  `json:"typing,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	SkipClient   *Client       `json:"-"`
}

// Snapshot carries the complete current ordered message list of a room.
// Receivers replace their local projection wholesale; a snapshot is never a
// delta to merge.
type Snapshot struct {
	RoomKey  string          `json:"room_key"`
	Messages []types.Message `json:"messages"`
}

type TypingEvent struct {
	RoomKey string `json:"room_key"`
	UserId  string `json:"user_id"`
	Typing  bool   `json:"typing"`
}

type Notification struct {
	RoomDeleted *RoomDeleted `json:"room_deleted,omitempty"`
}

type RoomDeleted struct {
	RoomKey string `json:"room_key"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrPermissionDenied(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "permission denied",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
