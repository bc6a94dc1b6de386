package web

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pantilt/pkg/control"
	"github.com/teslashibe/go-pantilt/pkg/hub"
	"github.com/teslashibe/go-pantilt/pkg/identity"
	"github.com/teslashibe/go-pantilt/pkg/task"
	"github.com/teslashibe/go-pantilt/pkg/tracking"
)

// handleStatus returns the latest loop status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.controller.Status())
}

// handleSubmitTask queues a task
func (s *Server) handleSubmitTask(c *fiber.Ctx) error {
	var req task.Request
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}

	id, err := s.controller.Submit(c.Context(), req)
	if err != nil {
		return s.controlError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"task_id": id})
}

// handleClearTasks drops every queued task
func (s *Server) handleClearTasks(c *fiber.Ctx) error {
	n, err := s.controller.Clear(c.Context())
	if err != nil {
		return s.controlError(c, err)
	}
	return c.JSON(fiber.Map{"removed": n})
}

// handleSelect starts tracking the person under the pointer
func (s *Server) handleSelect(c *fiber.Ctx) error {
	var sel control.Selection
	if err := c.BodyParser(&sel); err != nil {
		return badRequest(c, err)
	}

	id, err := s.controller.Select(c.Context(), sel)
	if err != nil {
		return s.controlError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"task_id": id})
}

// handleGetTuning returns the controller tuning
func (s *Server) handleGetTuning(c *fiber.Ctx) error {
	return c.JSON(s.controller.Status().Tuning)
}

// handleSetTuning applies controller tuning; zero fields are unchanged
func (s *Server) handleSetTuning(c *fiber.Ctx) error {
	var params tracking.TuningParams
	if err := c.BodyParser(&params); err != nil {
		return badRequest(c, err)
	}

	applied, err := s.controller.Tune(c.Context(), params)
	if err != nil {
		return s.controlError(c, err)
	}
	s.AddLog("tuning", "Tuning updated")
	return c.JSON(applied)
}

// handleGetLogs returns recent log entries
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

// IdentityView is an identity as listed on the dashboard.
type IdentityView struct {
	ID       uint32    `json:"id"`
	Label    string    `json:"label"`
	LastSeen time.Time `json:"last_seen"`
}

// handleListIdentities lists known identities, most recently seen first
func (s *Server) handleListIdentities(c *fiber.Ctx) error {
	if s.identities == nil {
		return c.JSON([]IdentityView{})
	}

	records := s.identities.Records()
	views := make([]IdentityView, len(records))
	for i, r := range records {
		views[i] = IdentityView{ID: r.ID, Label: r.Label, LastSeen: r.LastSeen}
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].LastSeen.After(views[j].LastSeen)
	})
	return c.JSON(views)
}

// LabelRequest is the request body for naming an identity
type LabelRequest struct {
	Label string `json:"label"`
}

// handleSetLabel names an identity
func (s *Server) handleSetLabel(c *fiber.Ctx) error {
	if s.identities == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "identity memory disabled"})
	}

	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return badRequest(c, err)
	}
	var req LabelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}

	err = s.identities.SetLabel(uint32(id), req.Label)
	switch {
	case errors.Is(err, identity.ErrUnknownIdentity):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, identity.ErrLabelTaken):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return badRequest(c, err)
	}

	label := identity.NormalizeLabel(req.Label)
	s.AddLog("identity", "Identity "+strconv.FormatUint(id, 10)+" is now "+label)
	return c.JSON(fiber.Map{"id": id, "label": label})
}

// controlError maps a control loop error to a response
func (s *Server) controlError(c *fiber.Ctx, err error) error {
	if errors.Is(err, control.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("control loop unavailable", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return badRequest(c, err)
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

// handleStatusWS streams loop status, starting with the current one
func (s *Server) handleStatusWS(c *websocket.Conn) {
	initial, err := json.Marshal(s.controller.Status())
	if err != nil {
		return
	}
	if client := hub.NewClient(s.statusHub, c, initial); client != nil {
		client.Run()
	}
}

// handleLogsWS streams log lines, starting with the buffered ones
func (s *Server) handleLogsWS(c *websocket.Conn) {
	logs := s.Logs()
	initial := make([][]byte, 0, len(logs))
	for _, entry := range logs {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		initial = append(initial, data)
	}
	if client := hub.NewClient(s.logHub, c, initial...); client != nil {
		client.Run()
	}
}
