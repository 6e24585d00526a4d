package server

import (
	"context"
	"net/http"

	"scoreroom/internal/db"

	"github.com/gin-gonic/gin"
)

const (
	defaultEventsPerPage = 50
	maxEventsPerPage     = 200
)

// eventLog is implemented by backends that keep a room audit log.
type eventLog interface {
	CountEvents(ctx context.Context, roomID string) (int64, error)
	EventsPage(ctx context.Context, roomID string, offset, limit int) ([]db.RoomEvent, error)
}

func (s *Server) handleRoomEvents(c *gin.Context) {
	_, room, ok := s.requireRoom(c)
	if !ok {
		return
	}
	events, ok := s.data.(eventLog)
	if !ok {
		writeError(c, http.StatusServiceUnavailable, "events unavailable without database")
		return
	}
	ctx := c.Request.Context()
	total, err := events.CountEvents(ctx, room.ID)
	if err != nil {
		s.logger.Error("count events error", "room_id", room.ID, "error", err)
		writeError(c, http.StatusInternalServerError, "failed to load events")
		return
	}
	page, perPage := parsePagination(c, defaultEventsPerPage, maxEventsPerPage)
	pagination := buildPagination(page, perPage, total)
	list, err := events.EventsPage(ctx, room.ID, pagination.offset(), pagination.PerPage)
	if err != nil {
		s.logger.Error("list events error", "room_id", room.ID, "error", err)
		writeError(c, http.StatusInternalServerError, "failed to load events")
		return
	}
	if list == nil {
		list = []db.RoomEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events":     list,
		"pagination": pagination,
	})
}
