package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tchatapp/tchat/internal/blob"
	"github.com/tchatapp/tchat/internal/config"
	"github.com/tchatapp/tchat/internal/database"
	"github.com/tchatapp/tchat/internal/presence"
	"github.com/tchatapp/tchat/internal/rooms"
	"github.com/tchatapp/tchat/internal/server"
	"github.com/tchatapp/tchat/internal/stats"
	"github.com/tchatapp/tchat/internal/testutil"
	"github.com/tchatapp/tchat/internal/types"
)

func authedRequest(method, target string, body *bytes.Buffer, userId string) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	return req.WithContext(WithUserId(req.Context(), userId))
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name         string
		mockErr      error
		expectedCode int
	}{
		{
			name:         "successful health check",
			expectedCode: http.StatusOK,
		},
		{
			name:         "failed health check",
			mockErr:      errors.New("db error"),
			expectedCode: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockTchatRepository{}
			defer mockRepo.AssertExpectations(t)

			mockRepo.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, mockRepo)

			rr := httptest.NewRecorder()
			app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tc.expectedCode, rr.Code)
		})
	}
}

func TestProfileHandler(t *testing.T) {
	profile := database.Profile{
		Id:          "11111111-2222-3333-4444-555555555555",
		Name:        "User",
		Handle:      "user",
		PhoneNumber: "+15551234567",
	}

	t.Run("returns own profile", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetProfile", profile.Id).Return(profile, nil).Once()

		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		app.profile(rr, authedRequest(http.MethodGet, "/api/profile", nil, profile.Id))

		assert.Equal(t, http.StatusOK, rr.Code)

		var got types.Profile
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, profile.Id, got.Id)
		assert.Equal(t, profile.Handle, got.Handle)
	})

	t.Run("missing profile", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetProfile", profile.Id).Return(database.Profile{}, sql.ErrNoRows).Once()

		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		app.profile(rr, authedRequest(http.MethodGet, "/api/profile", nil, profile.Id))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("updates own profile", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		params := database.UpdateProfileParams{
			Id:          profile.Id,
			Name:        "Renamed",
			Handle:      "renamed",
			PhoneNumber: "+15557654321",
			AvatarUrl:   "http://localhost/media/avatar.png",
		}
		updated := database.Profile{
			Id:          profile.Id,
			Name:        params.Name,
			Handle:      params.Handle,
			PhoneNumber: params.PhoneNumber,
			AvatarUrl:   params.AvatarUrl,
		}
		mockRepo.On("UpdateProfile", params).Return(updated, nil).Once()

		app := newTestApp(t, mockRepo)

		body, err := json.Marshal(UpdateProfileRequest{
			Name:        params.Name,
			Handle:      params.Handle,
			PhoneNumber: params.PhoneNumber,
			AvatarUrl:   params.AvatarUrl,
		})
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		app.profile(rr, authedRequest(http.MethodPut, "/api/profile", bytes.NewBuffer(body), profile.Id))

		assert.Equal(t, http.StatusOK, rr.Code)

		var got types.Profile
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "Renamed", got.Name)
	})

	t.Run("rejects update without a name", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		body, err := json.Marshal(UpdateProfileRequest{Handle: "renamed"})
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		app.profile(rr, authedRequest(http.MethodPut, "/api/profile", bytes.NewBuffer(body), profile.Id))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		rr := httptest.NewRecorder()
		app.profile(rr, authedRequest(http.MethodDelete, "/api/profile", nil, profile.Id))

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestContactsHandler(t *testing.T) {
	mockRepo := &database.MockTchatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("ListProfiles", "alice").Return([]database.Profile{
		{Id: "bob", Name: "Bob", Handle: "bob"},
		{Id: "carol", Name: "Carol", Handle: "carol"},
	}, nil).Once()

	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.contacts(rr, authedRequest(http.MethodGet, "/api/contacts", nil, "alice"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got []types.Profile
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got, 2)
	assert.Equal(t, "bob", got[0].Id)
}

func TestCreateGroupHandler(t *testing.T) {
	t.Run("creates a group with a generated id", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		params := database.CreateGroupParams{
			Id:        "EoGKUXPHgz", // example shortid, typically under 9 characters
			Name:      "Friends",
			CreatedBy: "alice",
		}
		mockRepo.On("CreateGroup", params).Return(database.Group{
			Id:        params.Id,
			Name:      params.Name,
			CreatedBy: params.CreatedBy,
			Members:   []string{"alice"},
		}, nil).Once()

		app := newTestApp(t, mockRepo)
		app.generateShortId = func() (string, error) {
			return params.Id, nil
		}

		body, err := json.Marshal(CreateGroupRequest{Name: "Friends"})
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		app.createGroup(rr, authedRequest(http.MethodPost, "/api/groups", bytes.NewBuffer(body), "alice"))

		assert.Equal(t, http.StatusCreated, rr.Code)

		var got types.Group
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, params.Id, got.Id)
		assert.Equal(t, []string{"alice"}, got.Members)
	})

	t.Run("rejects an empty name", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		body, err := json.Marshal(CreateGroupRequest{})
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		app.createGroup(rr, authedRequest(http.MethodPost, "/api/groups", bytes.NewBuffer(body), "alice"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("short id generation failure", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})
		app.generateShortId = func() (string, error) {
			return "", errors.New("entropy exhausted")
		}

		body, err := json.Marshal(CreateGroupRequest{Name: "Friends"})
		assert.NoError(t, err)

		rr := httptest.NewRecorder()
		app.createGroup(rr, authedRequest(http.MethodPost, "/api/groups", bytes.NewBuffer(body), "alice"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestListGroupsHandler(t *testing.T) {
	mockRepo := &database.MockTchatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("ListGroupsForUser", "alice").Return([]database.Group{
		{Id: "g1", Name: "Friends", CreatedBy: "alice"},
	}, nil).Once()

	app := newTestApp(t, mockRepo)

	rr := httptest.NewRecorder()
	app.listGroups(rr, authedRequest(http.MethodGet, "/api/groups", nil, "alice"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got []types.Group
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got, 1)
	assert.Equal(t, "g1", got[0].Id)
}

func TestDeleteGroupHandler(t *testing.T) {
	group := database.Group{
		Id:        "g1",
		Name:      "Friends",
		CreatedBy: "alice",
		Members:   []string{"alice", "bob"},
	}

	t.Run("only the creator may delete", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()

		app := newTestApp(t, mockRepo)

		req := authedRequest(http.MethodDelete, "/api/groups/g1", nil, "bob")
		req.SetPathValue("id", group.Id)

		rr := httptest.NewRecorder()
		app.deleteGroup(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown group", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", "missing").Return(database.Group{}, sql.ErrNoRows).Once()

		app := newTestApp(t, mockRepo)

		req := authedRequest(http.MethodDelete, "/api/groups/missing", nil, "alice")
		req.SetPathValue("id", "missing")

		rr := httptest.NewRecorder()
		app.deleteGroup(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("deletes and unloads the room", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()
		mockRepo.On("DeleteGroup", group.Id).Return(nil).Once()

		su := &stats.MockStatsUpdater{}
		su.On("RegisterMetric", mock.Anything).Maybe()
		su.On("Incr", mock.Anything).Maybe()
		su.On("Decr", mock.Anything).Maybe()

		cs, err := server.NewChannelServer(testutil.TestLogger(t), mockRepo, presence.NewMemoryTypingStore(), su)
		assert.NoError(t, err)

		app := NewTchatApp(http.NewServeMux(), testutil.TestLogger(t), cs, mockRepo, nil, su, &config.Config{
			SigningKey: []byte("test-signing-key"),
		})

		req := authedRequest(http.MethodDelete, "/api/groups/g1", nil, "alice")
		req.SetPathValue("id", group.Id)

		rr := httptest.NewRecorder()
		app.deleteGroup(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestAddGroupMemberHandler(t *testing.T) {
	group := database.Group{
		Id:        "g1",
		Name:      "Friends",
		CreatedBy: "alice",
		Members:   []string{"alice", "bob"},
	}

	t.Run("creator adds a member", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()
		mockRepo.On("GetProfile", "carol").Return(database.Profile{Id: "carol"}, nil).Once()
		mockRepo.On("AddGroupMember", group.Id, "carol").Return(nil).Once()

		app := newTestApp(t, mockRepo)

		body, err := json.Marshal(AddMemberRequest{UserId: "carol"})
		assert.NoError(t, err)

		req := authedRequest(http.MethodPost, "/api/groups/g1/members", bytes.NewBuffer(body), "alice")
		req.SetPathValue("id", group.Id)

		rr := httptest.NewRecorder()
		app.addGroupMember(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("non-creator may not add members", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()

		app := newTestApp(t, mockRepo)

		body, err := json.Marshal(AddMemberRequest{UserId: "carol"})
		assert.NoError(t, err)

		req := authedRequest(http.MethodPost, "/api/groups/g1/members", bytes.NewBuffer(body), "bob")
		req.SetPathValue("id", group.Id)

		rr := httptest.NewRecorder()
		app.addGroupMember(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown target account", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()
		mockRepo.On("GetProfile", "ghost").Return(database.Profile{}, sql.ErrNoRows).Once()

		app := newTestApp(t, mockRepo)

		body, err := json.Marshal(AddMemberRequest{UserId: "ghost"})
		assert.NoError(t, err)

		req := authedRequest(http.MethodPost, "/api/groups/g1/members", bytes.NewBuffer(body), "alice")
		req.SetPathValue("id", group.Id)

		rr := httptest.NewRecorder()
		app.addGroupMember(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestRemoveGroupMemberHandler(t *testing.T) {
	group := database.Group{
		Id:        "g1",
		Name:      "Friends",
		CreatedBy: "alice",
		Members:   []string{"alice", "bob"},
	}

	t.Run("member leaves on their own", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()
		mockRepo.On("CountGroupMembers", group.Id).Return(2, nil).Once()
		mockRepo.On("RemoveGroupMember", group.Id, "bob").Return(nil).Once()

		app := newTestApp(t, mockRepo)

		req := authedRequest(http.MethodDelete, "/api/groups/g1/members/bob", nil, "bob")
		req.SetPathValue("id", group.Id)
		req.SetPathValue("userId", "bob")

		rr := httptest.NewRecorder()
		app.removeGroupMember(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("non-creator may not remove others", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()

		app := newTestApp(t, mockRepo)

		req := authedRequest(http.MethodDelete, "/api/groups/g1/members/alice", nil, "bob")
		req.SetPathValue("id", group.Id)
		req.SetPathValue("userId", "alice")

		rr := httptest.NewRecorder()
		app.removeGroupMember(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("last member may not leave", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		solo := database.Group{Id: "g2", Name: "Solo", CreatedBy: "alice", Members: []string{"alice"}}
		mockRepo.On("GetGroup", solo.Id).Return(solo, nil).Once()
		mockRepo.On("CountGroupMembers", solo.Id).Return(1, nil).Once()

		app := newTestApp(t, mockRepo)

		req := authedRequest(http.MethodDelete, "/api/groups/g2/members/alice", nil, "alice")
		req.SetPathValue("id", solo.Id)
		req.SetPathValue("userId", "alice")

		rr := httptest.NewRecorder()
		app.removeGroupMember(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestListGroupMembersHandler(t *testing.T) {
	group := database.Group{
		Id:        "g1",
		Name:      "Friends",
		CreatedBy: "alice",
		Members:   []string{"alice", "bob"},
	}

	t.Run("members may view the roster", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()
		mockRepo.On("ListGroupMembers", group.Id).Return([]database.Profile{
			{Id: "alice"}, {Id: "bob"},
		}, nil).Once()

		app := newTestApp(t, mockRepo)

		req := authedRequest(http.MethodGet, "/api/groups/g1/members", nil, "bob")
		req.SetPathValue("id", group.Id)

		rr := httptest.NewRecorder()
		app.listGroupMembers(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var got []types.Profile
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Len(t, got, 2)
	})

	t.Run("non-members may not view the roster", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetGroup", group.Id).Return(group, nil).Once()

		app := newTestApp(t, mockRepo)

		req := authedRequest(http.MethodGet, "/api/groups/g1/members", nil, "carol")
		req.SetPathValue("id", group.Id)

		rr := httptest.NewRecorder()
		app.listGroupMembers(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestGetMessagesHandler(t *testing.T) {
	roomKey := rooms.DirectKey("alice", "bob")

	t.Run("missing room id", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, "/api/messages", nil, "alice"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("direct room requires participation", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?room_id="+roomKey, nil, "carol"))

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("returns room history", func(t *testing.T) {
		mockRepo := &database.MockTchatRepository{}
		defer mockRepo.AssertExpectations(t)

		now := time.Now().UTC()
		mockRepo.On("GetMessages", roomKey, int64(0), int64(0), 0).Return([]database.Message{
			{
				Id:          "m1",
				RoomKey:     roomKey,
				SenderId:    "alice",
				Text:        "hello",
				ContentType: string(types.ContentText),
				DisplayTime: "14:05",
				CreatedAt:   now,
			},
			{
				Id:          "m2",
				RoomKey:     roomKey,
				SenderId:    "bob",
				ContentType: string(types.ContentLocation),
				Latitude:    sql.NullFloat64{Float64: 48.85, Valid: true},
				Longitude:   sql.NullFloat64{Float64: 2.35, Valid: true},
				MapUrl:      rooms.MapURL(48.85, 2.35),
				CreatedAt:   now,
			},
		}, nil).Once()

		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?room_id="+roomKey, nil, "alice"))

		assert.Equal(t, http.StatusOK, rr.Code)

		var got []types.Message
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Len(t, got, 2)
		assert.Equal(t, "hello", got[0].Text)
		assert.Equal(t, "14:05", got[0].Time)
		assert.NotNil(t, got[1].Location)
		assert.Equal(t, 48.85, got[1].Location.Latitude)
	})

	t.Run("rejects a malformed pagination bound", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		rr := httptest.NewRecorder()
		app.getMessages(rr, authedRequest(http.MethodGet, "/api/messages?room_id="+roomKey+"&before=abc", nil, "alice"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestUploadHandler(t *testing.T) {
	roomKey := rooms.DirectKey("alice", "bob")

	newUploadRequest := func(t *testing.T, roomId string) *http.Request {
		t.Helper()

		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		if roomId != "" {
			assert.NoError(t, mw.WriteField("room_id", roomId))
		}
		fw, err := mw.CreateFormFile("file", "photo.png")
		assert.NoError(t, err)
		_, err = fw.Write([]byte("image-bytes"))
		assert.NoError(t, err)
		assert.NoError(t, mw.Close())

		req := authedRequest(http.MethodPost, "/api/uploads", buf, "alice")
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	t.Run("stores the file and returns its URL", func(t *testing.T) {
		store, err := blob.NewDiskStore(t.TempDir(), "http://localhost:8000/media")
		assert.NoError(t, err)

		su := &stats.MockStatsUpdater{}
		su.On("RegisterMetric", mock.Anything).Maybe()
		su.On("Incr", MetricUploads).Once()

		app := NewTchatApp(http.NewServeMux(), testutil.TestLogger(t), nil, &database.MockTchatRepository{}, store, su, &config.Config{
			SigningKey: []byte("test-signing-key"),
		})

		rr := httptest.NewRecorder()
		app.upload(rr, newUploadRequest(t, roomKey))

		assert.Equal(t, http.StatusCreated, rr.Code)

		var got UploadResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Contains(t, got.Url, "http://localhost:8000/media/")
		assert.Contains(t, got.Object, ".png")

		su.AssertExpectations(t)
	})

	t.Run("missing room id", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		rr := httptest.NewRecorder()
		app.upload(rr, newUploadRequest(t, ""))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("outsiders may not upload into a direct room", func(t *testing.T) {
		app := newTestApp(t, &database.MockTchatRepository{})

		req := newUploadRequest(t, rooms.DirectKey("bob", "carol"))

		rr := httptest.NewRecorder()
		app.upload(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}
