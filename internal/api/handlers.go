package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tchatapp/tchat/internal/blob"
	"github.com/tchatapp/tchat/internal/database"
	"github.com/tchatapp/tchat/internal/rooms"
	"github.com/tchatapp/tchat/internal/server"
	"github.com/tchatapp/tchat/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Handle   string `json:"handle"`
}

type DeleteAccountRequest struct {
	Password string `json:"password"`
}

type UpdateProfileRequest struct {
	Name        string `json:"name"`
	Handle      string `json:"handle"`
	PhoneNumber string `json:"phone_number"`
	AvatarUrl   string `json:"avatar_url"`
}

type CreateGroupRequest struct {
	Name string `json:"name"`
}

type AddMemberRequest struct {
	UserId string `json:"user_id"`
}

type UploadResponse struct {
	Url    string `json:"url"`
	Object string `json:"object"`
}

const maxUploadBytes = 10 << 20

func (s *TchatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func profileFromRecord(p database.Profile) types.Profile {
	return types.Profile{
		Id:          p.Id,
		Name:        p.Name,
		Handle:      p.Handle,
		PhoneNumber: p.PhoneNumber,
		AvatarUrl:   p.AvatarUrl,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func groupFromRecord(g database.Group) types.Group {
	return types.Group{
		Id:        g.Id,
		Name:      g.Name,
		CreatedBy: g.CreatedBy,
		CreatedAt: g.CreatedAt,
		Members:   g.Members,
	}
}

func messageFromRecord(m database.Message) types.Message {
	msg := types.Message{
		Id:        m.Id,
		RoomKey:   m.RoomKey,
		SenderId:  m.SenderId,
		Text:      m.Text,
		Type:      types.ContentType(m.ContentType),
		ImageUrl:  m.ImageUrl,
		MapUrl:    m.MapUrl,
		Time:      m.DisplayTime,
		Timestamp: m.CreatedAt,
	}

	if m.Latitude.Valid && m.Longitude.Valid {
		msg.Location = &types.Location{
			Latitude:  m.Latitude.Float64,
			Longitude: m.Longitude.Float64,
		}
	}

	return msg
}

// roomAccessError gates history and upload access the same way the live
// channel does: direct rooms require the caller to be a participant, group
// rooms require membership.
func (s *TchatApp) roomAccessError(userId, roomKey string) *ApiError {
	if rooms.IsDirectKey(roomKey) {
		if !rooms.IsParticipant(roomKey, userId) {
			return NewForbiddenError()
		}
		return nil
	}

	if _, err := s.db.GetGroup(roomKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewNotFoundError()
		}
		return NewInternalServerError(err)
	}

	member, err := s.db.IsGroupMember(roomKey, userId)
	if err != nil {
		return NewInternalServerError(err)
	}
	if !member {
		return NewForbiddenError()
	}

	return nil
}

func (s *TchatApp) profile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	switch r.Method {
	case http.MethodGet:
		profile, err := s.db.GetProfile(userId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, profileFromRecord(profile))
	case http.MethodPut:
		var req UpdateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if req.Name == "" || req.Handle == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		params := database.UpdateProfileParams{
			Id:          userId,
			Name:        req.Name,
			Handle:      req.Handle,
			PhoneNumber: req.PhoneNumber,
			AvatarUrl:   req.AvatarUrl,
		}

		profile, err := s.db.UpdateProfile(params)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, profileFromRecord(profile))
	default:
		errResp := NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
}

// contacts returns every directory profile except the caller's own.
func (s *TchatApp) contacts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbProfiles, err := s.db.ListProfiles(userId)
	if err != nil {
		s.log.Println("list profiles:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var profiles []types.Profile
	for _, p := range dbProfiles {
		profiles = append(profiles, profileFromRecord(p))
	}

	s.writeJson(w, http.StatusOK, profiles)
}

func (s *TchatApp) createGroup(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateGroupParams{
		Id:        sid,
		Name:      req.Name,
		CreatedBy: userId,
	}

	newGroup, err := s.db.CreateGroup(params)
	if err != nil {
		s.log.Println("create group:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, groupFromRecord(newGroup))
}

func (s *TchatApp) listGroups(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbGroups, err := s.db.ListGroupsForUser(userId)
	if err != nil {
		s.log.Println("list groups:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var groups []types.Group
	for _, g := range dbGroups {
		groups = append(groups, groupFromRecord(g))
	}

	s.writeJson(w, http.StatusOK, groups)
}

func (s *TchatApp) deleteGroup(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	groupId := r.PathValue("id")
	if groupId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroup(groupId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !group.IsAdmin(userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteGroup(group.Id); err != nil {
		s.log.Println("delete group:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.UnloadRoom(r.Context(), group.Id, true); err != nil {
		s.log.Println("unload room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

// memberGroup loads a group and verifies the caller may see its membership.
func (s *TchatApp) memberGroup(userId, groupId string) (database.Group, *ApiError) {
	group, err := s.db.GetGroup(groupId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Group{}, NewNotFoundError()
		}
		return database.Group{}, NewInternalServerError(err)
	}

	if !slices.Contains(group.Members, userId) {
		return database.Group{}, NewForbiddenError()
	}

	return group, nil
}

func (s *TchatApp) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, errResp := s.memberGroup(userId, r.PathValue("id"))
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbProfiles, err := s.db.ListGroupMembers(group.Id)
	if err != nil {
		s.log.Println("list group members:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var profiles []types.Profile
	for _, p := range dbProfiles {
		profiles = append(profiles, profileFromRecord(p))
	}

	s.writeJson(w, http.StatusOK, profiles)
}

func (s *TchatApp) listGroupNonMembers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, errResp := s.memberGroup(userId, r.PathValue("id"))
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbProfiles, err := s.db.ListGroupNonMembers(group.Id)
	if err != nil {
		s.log.Println("list group non-members:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var profiles []types.Profile
	for _, p := range dbProfiles {
		profiles = append(profiles, profileFromRecord(p))
	}

	s.writeJson(w, http.StatusOK, profiles)
}

func (s *TchatApp) addGroupMember(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroup(r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !group.IsAdmin(userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetProfile(req.UserId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddGroupMember(group.Id, req.UserId); err != nil {
		s.log.Println("add group member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TchatApp) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	target := r.PathValue("userId")
	if target == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroup(r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// members may remove themselves, the creator may remove anyone
	if target != userId && !group.IsAdmin(userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	count, err := s.db.CountGroupMembers(group.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// a group never exists without members; the last one must delete it
	if count <= 1 {
		errResp := NewConflictError("group must retain at least one member")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.RemoveGroupMember(group.Id, target); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TchatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomKey := r.URL.Query().Get("room_id")
	if roomKey == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if errResp := s.roomAccessError(userId, roomKey); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var (
		before, after int64
		limit         int
		err           error
	)

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err = strconv.ParseInt(beforeStr, 10, 64)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		after, err = strconv.ParseInt(afterStr, 10, 64)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	dbMessages, err := s.db.GetMessages(roomKey, after, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var messages []types.Message
	for _, msg := range dbMessages {
		messages = append(messages, messageFromRecord(msg))
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *TchatApp) upload(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomKey := r.FormValue("room_id")
	if roomKey == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if errResp := s.roomAccessError(userId, roomKey); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	objectName := blob.ObjectName(roomKey, header.Filename, time.Now())

	url, err := s.blobs.Put(r.Context(), objectName, file)
	if err != nil {
		s.log.Println("blob put:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.stats.Incr(MetricUploads)

	s.writeJson(w, http.StatusCreated, UploadResponse{
		Url:    url,
		Object: objectName,
	})
}

func (s *TchatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(s.sessionProfile(account), conn, s.cs, s.log)

	s.cs.RegisterChan <- client
	go client.Write()
	go client.Read()
}

func (s *TchatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}
