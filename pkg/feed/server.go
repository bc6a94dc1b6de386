// Package feed is the WebSocket endpoint perception processes connect to.
// Observations go to the control loop mailbox, task requests go to the loop
// and are acknowledged, and every packet the loop sends is mirrored back to
// connected sources.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-pantilt/pkg/control"
	"github.com/teslashibe/go-pantilt/pkg/perception"
	"github.com/teslashibe/go-pantilt/pkg/protocol"
	"github.com/teslashibe/go-pantilt/pkg/task"
)

// Publisher receives perception reports. *perception.Mailbox implements it.
type Publisher interface {
	Put(r perception.Report)
}

// Submitter accepts task requests. *control.Loop implements it.
type Submitter interface {
	Submit(ctx context.Context, req task.Request) (task.ID, error)
}

// ErrNoSubmitter is acked when the server was created without a Submitter.
var ErrNoSubmitter = errors.New("task submission disabled")

// outboxSize bounds packet mirrors waiting for Run.
const outboxSize = 64

// Source is a connected perception process.
type Source struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send writes a message to the source.
func (s *Source) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Source) touch(now time.Time) {
	s.mu.Lock()
	s.LastSeen = now
	s.mu.Unlock()
}

// Server manages perception connections.
type Server struct {
	mu      sync.RWMutex
	sources map[string]*Source

	publisher Publisher
	submitter Submitter
	logger    *slog.Logger

	outbox     chan *protocol.Message
	lastPacket time.Time // Owned by the control goroutine via UpdateStatus

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	observations     atomic.Uint64
	tasks            atomic.Uint64
	parseErrors      atomic.Uint64
	mirrorsDropped   atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

// WithSubmitter enables task requests over the feed.
func WithSubmitter(s Submitter) Option {
	return func(srv *Server) {
		srv.submitter = s
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) {
		srv.logger = logger.With("component", "feed")
	}
}

// NewServer creates a feed server publishing observations to pub.
func NewServer(pub Publisher, opts ...Option) *Server {
	s := &Server{
		sources:   make(map[string]*Source),
		publisher: pub,
		logger:    slog.Default().With("component", "feed"),
		outbox:    make(chan *protocol.Message, outboxSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers the WebSocket endpoint on a Fiber app.
func (s *Server) RegisterRoutes(app fiber.Router) {
	app.Use("/ws/perception", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/perception", websocket.New(s.handleSource))
	app.Get("/ws/perception/:id", websocket.New(s.handleSource))
}

// RegisterAPIRoutes registers source inspection routes.
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	sources := api.Group("/sources")

	sources.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sources": s.SourceInfos(),
			"count":   s.SourceCount(),
		})
	})

	sources.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.Stats())
	})
}

// Run broadcasts packet mirrors until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.outbox:
			s.Broadcast(msg)
		}
	}
}

func (s *Server) handleSource(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	src := &Source{ID: id, Conn: c, Connected: now, LastSeen: now}

	s.mu.Lock()
	if _, taken := s.sources[id]; taken {
		// Two processes claiming one name: keep both, suffix the newcomer
		id = id + "-" + uuid.New().String()[:8]
		src.ID = id
	}
	s.sources[id] = src
	count := len(s.sources)
	s.mu.Unlock()

	s.logger.Info("source connected", "source", id, "total", count)

	defer func() {
		s.mu.Lock()
		delete(s.sources, id)
		count := len(s.sources)
		s.mu.Unlock()
		s.logger.Info("source disconnected", "source", id, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Debug("source read ended", "source", id, "error", err)
			return
		}

		src.touch(time.Now())
		s.messagesReceived.Add(1)
		s.handleMessage(src, data)
	}
}

func (s *Server) handleMessage(src *Source, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.parseErrors.Add(1)
		s.logger.Warn("parse error", "source", src.ID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeObservation:
		obs, err := msg.GetObservationData()
		if err != nil {
			s.parseErrors.Add(1)
			s.logger.Warn("bad observation", "source", src.ID, "error", err)
			return
		}
		s.observations.Add(1)
		s.publisher.Put(ReportFromObservation(obs, time.Now()))

	case protocol.TypeTask:
		s.tasks.Add(1)
		s.handleTask(src, msg)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			s.parseErrors.Add(1)
			return
		}
		pong, err := protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli())
		if err != nil {
			return
		}
		s.send(src, pong)

	default:
		s.logger.Debug("ignored message", "source", src.ID, "type", msg.Type)
	}
}

func (s *Server) handleTask(src *Source, msg *protocol.Message) {
	data, err := msg.GetTaskData()
	if err != nil {
		s.parseErrors.Add(1)
		s.ack(src, "", "", fmt.Errorf("bad task request: %w", err))
		return
	}
	if s.submitter == nil {
		s.ack(src, data.ReplyTo, "", ErrNoSubmitter)
		return
	}

	req := task.Request{Kind: data.Kind, Duration: data.Duration, Target: data.Target}
	id, err := s.submitter.Submit(context.Background(), req)
	if err != nil {
		s.logger.Info("task rejected", "source", src.ID, "kind", data.Kind, "error", err)
	}
	s.ack(src, data.ReplyTo, string(id), err)
}

func (s *Server) ack(src *Source, replyTo, taskID string, err error) {
	msg, mErr := protocol.NewAckMessage(replyTo, taskID, err)
	if mErr != nil {
		return
	}
	s.send(src, msg)
}

func (s *Server) send(src *Source, msg *protocol.Message) {
	if err := src.Send(msg); err != nil {
		s.logger.Debug("send failed", "source", src.ID, "error", err)
		return
	}
	s.messagesSent.Add(1)
}

// Broadcast sends a message to every connected source.
func (s *Server) Broadcast(msg *protocol.Message) {
	s.mu.RLock()
	sources := make([]*Source, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	s.mu.RUnlock()

	for _, src := range sources {
		s.send(src, msg)
	}
}

// UpdateStatus queues a mirror of each packet the loop sends. It never
// blocks; mirrors are dropped when Run falls behind.
func (s *Server) UpdateStatus(st control.Status) {
	p := st.LastPacket
	if p == nil || !p.Sent || !p.At.After(s.lastPacket) {
		return
	}
	s.lastPacket = p.At

	msg, err := protocol.NewPacketMessage(protocol.ControlPacket{Kind: p.Kind, X: p.X, Y: p.Y}, string(p.TaskID))
	if err != nil {
		return
	}

	select {
	case s.outbox <- msg:
	default:
		s.mirrorsDropped.Add(1)
	}
}

// AddLog is a no-op: log lines go to the dashboard only.
func (s *Server) AddLog(string, string) {}

// ReportFromObservation converts a wire observation into a mailbox report
// captured at the given time.
func ReportFromObservation(obs *protocol.ObservationData, at time.Time) perception.Report {
	r := perception.Report{
		Identity:  obs.Identity,
		Embedding: obs.Embedding,
		At:        at,
	}
	if obs.Present() {
		r.Position = &perception.Point{X: *obs.X, Y: *obs.Y}
	}
	return r
}

// SourceCount returns the number of connected sources.
func (s *Server) SourceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// SourceInfo describes a connected source.
type SourceInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// SourceInfos returns info about all connected sources.
func (s *Server) SourceInfos() []SourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SourceInfo, 0, len(s.sources))
	for _, src := range s.sources {
		src.mu.Lock()
		infos = append(infos, SourceInfo{
			ID:        src.ID,
			Connected: src.Connected,
			LastSeen:  src.LastSeen,
		})
		src.mu.Unlock()
	}
	return infos
}

// Stats contains feed statistics.
type Stats struct {
	SourceCount      int    `json:"source_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Observations     uint64 `json:"observations"`
	Tasks            uint64 `json:"tasks"`
	ParseErrors      uint64 `json:"parse_errors"`
	MirrorsDropped   uint64 `json:"mirrors_dropped"`
}

// Stats returns feed statistics.
func (s *Server) Stats() Stats {
	return Stats{
		SourceCount:      s.SourceCount(),
		MessagesReceived: s.messagesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		Observations:     s.observations.Load(),
		Tasks:            s.tasks.Load(),
		ParseErrors:      s.parseErrors.Load(),
		MirrorsDropped:   s.mirrorsDropped.Load(),
	}
}
