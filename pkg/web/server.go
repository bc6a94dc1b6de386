// Package web provides the operator dashboard for the pan/tilt loop: live
// status and logs over websocket, and a small JSON API for queueing tasks,
// pointer selection, tuning and identity labels.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pantilt/pkg/control"
	"github.com/teslashibe/go-pantilt/pkg/hub"
	"github.com/teslashibe/go-pantilt/pkg/identity"
	"github.com/teslashibe/go-pantilt/pkg/task"
	"github.com/teslashibe/go-pantilt/pkg/tracking"
)

// maxLogs is how many log lines the dashboard keeps.
const maxLogs = 500

// Controller is the part of the control loop the dashboard drives.
// *control.Loop implements it.
type Controller interface {
	Status() control.Status
	Submit(ctx context.Context, req task.Request) (task.ID, error)
	Select(ctx context.Context, sel control.Selection) (task.ID, error)
	Clear(ctx context.Context) (int, error)
	Tune(ctx context.Context, params tracking.TuningParams) (tracking.TuningParams, error)
}

// Identities is the identity store the dashboard lists and relabels.
// *identity.Memory implements it.
type Identities interface {
	Records() []identity.Record
	SetLabel(id uint32, label string) error
}

// LogEntry represents a log line for the dashboard
type LogEntry struct {
	Time    string `json:"time"`
	Type    string `json:"type"` // task, select, identity, error
	Message string `json:"message"`
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	controller Controller
	identities Identities
	staticDir  string

	// Log buffer (last maxLogs entries)
	logs   []LogEntry
	logsMu sync.RWMutex

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	logHub    *hub.Hub
}

// Option configures a Server.
type Option func(*Server)

// WithIdentities enables the identity routes.
func WithIdentities(ids Identities) Option {
	return func(s *Server) {
		s.identities = ids
	}
}

// WithStaticDir serves dashboard assets from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With("component", "web")
	}
}

// NewServer creates a new web dashboard server
func NewServer(port string, ctrl Controller, opts ...Option) *Server {
	s := &Server{
		port:       port,
		controller: ctrl,
		logger:     slog.Default().With("component", "web"),
		logs:       make([]LogEntry, 0, maxLogs),
		statusHub:  hub.New("status"),
		logHub:     hub.New("logs"),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "Pan/Tilt Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if s.staticDir != "" {
		app.Static("/", s.staticDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/tasks", s.handleSubmitTask)
	api.Post("/tasks/clear", s.handleClearTasks)
	api.Post("/select", s.handleSelect)
	api.Get("/tuning", s.handleGetTuning)
	api.Post("/tuning", s.handleSetTuning)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/identities", s.handleListIdentities)
	api.Put("/identities/:id/label", s.handleSetLabel)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// App returns the Fiber app so other endpoints can share the listener.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and serves until Shutdown. The hubs stop when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	fmt.Printf("🌐 Web dashboard: http://localhost:%s\n", s.port)

	go s.statusHub.Run(ctx)
	go s.logHub.Run(ctx)

	return s.app.Listen(":" + s.port)
}

// UpdateStatus broadcasts a loop status to status clients.
func (s *Server) UpdateStatus(st control.Status) {
	if err := s.statusHub.BroadcastJSON(st); err != nil {
		s.logger.Debug("status encode failed", "error", err)
	}
}

// AddLog adds a log entry and broadcasts to clients
func (s *Server) AddLog(logType, message string) {
	entry := LogEntry{
		Time:    time.Now().Format("15:04:05"),
		Type:    logType,
		Message: message,
	}

	s.logsMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[1:]
	}
	s.logsMu.Unlock()

	_ = s.logHub.BroadcastJSON(entry)
}

// Logs returns a copy of the buffered log entries, oldest first.
func (s *Server) Logs() []LogEntry {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()
	return append([]LogEntry(nil), s.logs...)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
