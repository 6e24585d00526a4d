package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"scoreroom/internal/backend"
	"scoreroom/internal/config"
	"scoreroom/internal/realtime"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Server struct {
	data     backend.Data
	hub      *realtime.Hub
	cfg      config.Config
	logger   *slog.Logger
	sessions *sessionStore
	ws       *wsHub

	clientsMu sync.Mutex
	clients   map[string]*client

	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// New wires the HTTP surface. A nil hub or data falls back to a local hub
// and the in-memory backend; a nil conn keeps sessions in memory.
func New(data backend.Data, hub *realtime.Hub, conn *gorm.DB, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = realtime.NewHub(logger)
	}
	if data == nil {
		data = backend.NewMemory(hub)
	}
	registerValidators()
	s := &Server{
		data:     data,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
		sessions: newSessionStore(conn, logger),
		ws:       newWSHub(),
		clients:  make(map[string]*client),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if ttl := cfg.ClientIdleTimeout(); ttl > 0 {
		go s.sweepClients(ttl)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api")
	api.GET("/me", s.handleGetMe)
	api.PATCH("/me", s.handleUpdateMe)
	api.GET("/me/matches", s.handleMatches)

	api.POST("/rooms", s.handleCreateRoom)
	api.GET("/rooms", s.handleFindRoom)
	api.POST("/rooms/:roomID/join", s.handleJoinRoom)

	current := api.Group("/room")
	current.GET("", s.handleGetRoom)
	current.POST("/rounds", s.handleRecordRound)
	current.POST("/leave", s.handleLeaveRoom)
	current.POST("/leave-game", s.handleLeaveGame)
	current.POST("/ready", s.handleReady)
	current.POST("/start", s.handleStartGame)
	current.POST("/end", s.handleEndGame)
	current.POST("/kick", s.handleKick)
	current.POST("/disband", s.handleDisband)
	current.POST("/transfer", s.handleTransferHost)
	current.GET("/events", s.handleRoomEvents)

	router.GET("/ws", s.handleWebsocket)
	return router
}

// Close stops the idle sweeper and drops every client subscription.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for id, cl := range s.clients {
		clients = append(clients, cl)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()
	for _, cl := range clients {
		cl.close()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
