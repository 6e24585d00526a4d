package server

import (
	"errors"
	"net/http"

	"scoreroom/internal/backend"
	"scoreroom/internal/model"

	"github.com/gin-gonic/gin"
)

type updateMeRequest struct {
	Nickname  *string `json:"nickname" binding:"omitempty,nickname"`
	AvatarURL *string `json:"avatar_url" binding:"omitempty,avatar"`
}

type createRoomRequest struct {
	InitialScore   *int   `json:"initial_score" binding:"omitempty,min=-1000000,max=1000000"`
	BaseMultiplier int    `json:"base_multiplier" binding:"omitempty,min=1,max=100"`
	ScoreCap       int    `json:"score_cap" binding:"omitempty,min=0"`
	PaymentMode    string `json:"payment_mode" binding:"omitempty,max=32"`
}

type findRoomRequest struct {
	Code string `form:"code" binding:"required,roomcode"`
}

type roomURI struct {
	RoomID string `uri:"roomID" binding:"required"`
}

type recordRoundRequest struct {
	Scores map[string]int `json:"scores" binding:"required"`
}

type readyRequest struct {
	Ready *bool `json:"ready" binding:"required"`
}

type targetRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
}

func (s *Server) handleGetMe(c *gin.Context) {
	cl := s.clientFor(c)
	c.JSON(http.StatusOK, gin.H{
		"user":    cl.auth.User(),
		"profile": cl.auth.Profile(),
	})
}

func (s *Server) handleUpdateMe(c *gin.Context) {
	cl := s.clientFor(c)
	var req updateMeRequest
	if !bindJSON(c, &req, fieldMessages{
		"Nickname":  {"nickname": "nickname must be 1-20 plain characters"},
		"AvatarURL": {"avatar": "avatar url must be an http or https url"},
	}, "invalid profile update") {
		return
	}
	ctx := c.Request.Context()
	if req.Nickname != nil {
		nickname, _ := validateNickname(*req.Nickname)
		if !cl.auth.UpdateNickname(ctx, nickname) {
			writeError(c, http.StatusInternalServerError, "failed to update nickname")
			return
		}
	}
	if req.AvatarURL != nil {
		avatar, _ := validateAvatarURL(*req.AvatarURL)
		if !cl.auth.UpdateAvatar(ctx, avatar) {
			writeError(c, http.StatusInternalServerError, "failed to update avatar")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"profile": cl.auth.Profile()})
}

func (s *Server) handleMatches(c *gin.Context) {
	cl := s.clientFor(c)
	userID := cl.auth.UserID()
	if userID == "" {
		writeError(c, http.StatusUnauthorized, "not signed in")
		return
	}
	matches, err := s.data.ListMatches(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("list matches error", "player_id", userID, "error", err)
		writeError(c, http.StatusInternalServerError, "failed to load matches")
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	cl := s.clientFor(c)
	var req createRoomRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, fieldMessages{
			"BaseMultiplier": {"min": "base multiplier must be at least 1"},
		}, "invalid room settings") {
			return
		}
	}
	settings := model.RoomSettings{
		InitialScore:   s.cfg.DefaultInitialScore,
		BaseMultiplier: 1,
		ScoreCap:       req.ScoreCap,
		PaymentMode:    req.PaymentMode,
	}
	if req.InitialScore != nil {
		settings.InitialScore = *req.InitialScore
	}
	if req.BaseMultiplier > 0 {
		settings.BaseMultiplier = req.BaseMultiplier
	}

	ctx := c.Request.Context()
	room := cl.room.CreateRoom(ctx, settings)
	if room == nil {
		writeError(c, http.StatusInternalServerError, "failed to create room")
		return
	}
	cl.room.LoadRoom(ctx, room.ID)
	cl.room.SubscribeToRoom(room.ID)
	c.JSON(http.StatusCreated, gin.H{
		"room_id":   room.ID,
		"room_code": room.RoomCode,
		"state":     cl.room.State(),
	})
}

func (s *Server) handleFindRoom(c *gin.Context) {
	cl := s.clientFor(c)
	var req findRoomRequest
	if !bindQuery(c, &req, fieldMessages{
		"Code": {"required": "room code is required", "roomcode": "room code must be 4 digits"},
	}, "invalid room code") {
		return
	}
	room := cl.room.FindRoomByCode(c.Request.Context(), req.Code)
	if room == nil {
		writeError(c, http.StatusNotFound, "room not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	cl := s.clientFor(c)
	var uri roomURI
	if !bindURI(c, &uri) {
		return
	}
	ctx := c.Request.Context()
	room, err := s.data.GetRoom(ctx, uri.RoomID)
	if errors.Is(err, backend.ErrNotFound) {
		writeError(c, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		s.logger.Error("join room lookup error", "room_id", uri.RoomID, "error", err)
		writeError(c, http.StatusInternalServerError, "failed to join room")
		return
	}
	if !room.Status.Joinable() {
		writeError(c, http.StatusConflict, "room is finished")
		return
	}
	if !cl.room.JoinRoom(ctx, room.ID) {
		writeError(c, http.StatusConflict, "unable to join room")
		return
	}
	cl.room.LoadRoom(ctx, room.ID)
	cl.room.SubscribeToRoom(room.ID)
	c.JSON(http.StatusOK, cl.room.State())
}

func (s *Server) handleGetRoom(c *gin.Context) {
	cl, _, ok := s.requireRoom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cl.room.State())
}

func (s *Server) handleRecordRound(c *gin.Context) {
	cl, room, ok := s.requireRoom(c)
	if !ok {
		return
	}
	var req recordRoundRequest
	if !bindJSON(c, &req, fieldMessages{
		"Scores": {"required": "scores are required"},
	}, "invalid round") {
		return
	}
	if room.Status != model.StatusPlaying {
		writeError(c, http.StatusConflict, "game is not in progress")
		return
	}
	members := make(map[string]bool)
	for _, player := range cl.room.Players() {
		members[player.PlayerID] = true
	}
	if err := validateScores(req.Scores, members); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !cl.room.RecordRound(c.Request.Context(), req.Scores) {
		writeError(c, http.StatusInternalServerError, "failed to record round")
		return
	}
	c.JSON(http.StatusOK, cl.room.State())
}

func (s *Server) handleLeaveRoom(c *gin.Context) {
	cl, _, ok := s.requireRoom(c)
	if !ok {
		return
	}
	if !cl.room.LeaveRoom(c.Request.Context()) {
		writeError(c, http.StatusInternalServerError, "failed to leave room")
		return
	}
	cl.room.Reset()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleLeaveGame(c *gin.Context) {
	cl, _, ok := s.requireRoom(c)
	if !ok {
		return
	}
	if !cl.room.LeaveGame(c.Request.Context()) {
		writeError(c, http.StatusInternalServerError, "failed to leave game")
		return
	}
	cl.room.Reset()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleReady(c *gin.Context) {
	cl, _, ok := s.requireRoom(c)
	if !ok {
		return
	}
	var req readyRequest
	if !bindJSON(c, &req, fieldMessages{
		"Ready": {"required": "ready is required"},
	}, "invalid ready state") {
		return
	}
	if !cl.room.SetReady(c.Request.Context(), *req.Ready) {
		writeError(c, http.StatusInternalServerError, "failed to update ready state")
		return
	}
	c.JSON(http.StatusOK, cl.room.State())
}

func (s *Server) handleStartGame(c *gin.Context) {
	cl, room, ok := s.requireHost(c)
	if !ok {
		return
	}
	if room.Status != model.StatusWaiting {
		writeError(c, http.StatusConflict, "game already started")
		return
	}
	if !cl.room.StartGame(c.Request.Context()) {
		writeError(c, http.StatusInternalServerError, "failed to start game")
		return
	}
	c.JSON(http.StatusOK, cl.room.State())
}

func (s *Server) handleEndGame(c *gin.Context) {
	cl, room, ok := s.requireHost(c)
	if !ok {
		return
	}
	if room.Status == model.StatusFinished {
		writeError(c, http.StatusConflict, "game already ended")
		return
	}
	if !cl.room.EndGame(c.Request.Context()) {
		writeError(c, http.StatusConflict, "failed to end game")
		return
	}
	c.JSON(http.StatusOK, cl.room.State())
}

func (s *Server) handleKick(c *gin.Context) {
	cl, room, ok := s.requireHost(c)
	if !ok {
		return
	}
	var req targetRequest
	if !bindJSON(c, &req, fieldMessages{
		"PlayerID": {"required": "player_id is required"},
	}, "invalid kick request") {
		return
	}
	if req.PlayerID == cl.auth.UserID() {
		writeError(c, http.StatusBadRequest, "host cannot kick themselves")
		return
	}
	ctx := c.Request.Context()
	if _, err := s.data.GetMembership(ctx, room.ID, req.PlayerID); err != nil {
		writeError(c, http.StatusNotFound, "player is not in this room")
		return
	}
	if !cl.room.KickPlayer(ctx, req.PlayerID) {
		writeError(c, http.StatusInternalServerError, "failed to kick player")
		return
	}
	c.JSON(http.StatusOK, cl.room.State())
}

func (s *Server) handleDisband(c *gin.Context) {
	cl, _, ok := s.requireHost(c)
	if !ok {
		return
	}
	if !cl.room.DisbandRoom(c.Request.Context()) {
		writeError(c, http.StatusInternalServerError, "failed to disband room")
		return
	}
	cl.room.Reset()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleTransferHost(c *gin.Context) {
	cl, _, ok := s.requireHost(c)
	if !ok {
		return
	}
	var req targetRequest
	if !bindJSON(c, &req, fieldMessages{
		"PlayerID": {"required": "player_id is required"},
	}, "invalid transfer request") {
		return
	}
	if req.PlayerID == cl.auth.UserID() {
		writeError(c, http.StatusBadRequest, "already the host")
		return
	}
	if !cl.room.TransferHost(c.Request.Context(), req.PlayerID) {
		writeError(c, http.StatusNotFound, "player is not in this room")
		return
	}
	cl.room.Reset()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// requireRoom resolves the session's current room, answering 404 when
// there is none.
func (s *Server) requireRoom(c *gin.Context) (*client, *model.Room, bool) {
	cl := s.clientFor(c)
	cached := cl.room.Room()
	if cached == nil {
		writeError(c, http.StatusNotFound, "not in a room")
		return nil, nil, false
	}
	return cl, cached, true
}

// requireHost is requireRoom plus a host check against the stored room.
func (s *Server) requireHost(c *gin.Context) (*client, *model.Room, bool) {
	cl, cached, ok := s.requireRoom(c)
	if !ok {
		return nil, nil, false
	}
	room, err := s.data.GetRoom(c.Request.Context(), cached.ID)
	if err != nil {
		writeError(c, http.StatusNotFound, "room not found")
		return nil, nil, false
	}
	if room.HostID != cl.auth.UserID() {
		writeError(c, http.StatusForbidden, "only the host can do that")
		return nil, nil, false
	}
	return cl, &room, true
}
