// Package api exposes the gateway HTTP surface (fiber) and the ops server
// (mux) with metrics and the realtime state feed.
package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamsquare/sentinelle/pkg/chat"
	"github.com/teamsquare/sentinelle/pkg/security"
	"github.com/teamsquare/sentinelle/pkg/telemetry"
)

// Version is reported by /health and the CLI.
const Version = "1.2.0"

// Server bundles the screening pipeline behind the gateway routes.
type Server struct {
	fusion    *security.FusionEngine
	blocking  *security.BlockingEngine
	alerts    *security.AlertStore
	state     *security.StateManager
	frontdoor *chat.FrontDoor
	metrics   *telemetry.Metrics
	log       *logrus.Logger
}

// NewServer wires the gateway. metrics may be nil in tests.
func NewServer(fusion *security.FusionEngine, blocking *security.BlockingEngine, alerts *security.AlertStore, state *security.StateManager, frontdoor *chat.FrontDoor, metrics *telemetry.Metrics, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		fusion:    fusion,
		blocking:  blocking,
		alerts:    alerts,
		state:     state,
		frontdoor: frontdoor,
		metrics:   metrics,
		log:       log,
	}
}

// App builds the fiber application with all gateway routes registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Sentinelle",
	})

	app.Get("/health", s.handleHealth)
	app.Get("/api/status", s.handleStatus)
	app.Post("/api/chat", s.handleChat)

	sec := app.Group("/api/security")
	sec.Post("/analyze", s.handleAnalyze)
	sec.Get("/alerts", s.handleAlerts)
	sec.Post("/block", s.handleBlock)
	sec.Post("/unblock", s.handleUnblock)
	sec.Post("/reset", s.handleReset)
	sec.Get("/report", s.handleReport)
	sec.Get("/sessions", s.handleSessions)

	return app
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "version": Version})
}

func (s *Server) handleStatus(c fiber.Ctx) error {
	snapshot := s.state.Snapshot()
	return c.JSON(fiber.Map{
		"system":       snapshot,
		"sources":      s.fusion.Status(),
		"alerts_count": s.alerts.Len(),
		"keywords":     s.fusion.Keywords().TotalKeywords(),
		"version":      Version,
	})
}

func (s *Server) handleChat(c fiber.Ctx) error {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := s.frontdoor.HandleMessage(c.Context(), req.Message, req.SessionID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if s.metrics != nil && resp.Analysis != nil {
		s.metrics.AnalysesTotal.WithLabelValues(string(resp.Analysis.Strategy), string(resp.Analysis.ThreatLevel)).Inc()
	}
	return c.JSON(resp)
}

func (s *Server) handleAnalyze(c fiber.Ctx) error {
	var req struct {
		Text          string   `json:"text"`
		Sources       []string `json:"sources"`
		SessionID     string   `json:"session_id"`
		ApplyBlocking bool     `json:"apply_blocking"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	sources := make([]security.SignalSource, 0, len(req.Sources))
	for _, src := range req.Sources {
		switch sig := security.SignalSource(src); sig {
		case security.SourceVulnerability, security.SourceNetwork, security.SourceIntent:
			sources = append(sources, sig)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown source: " + src})
		}
	}

	result, err := s.fusion.Analyze(c.Context(), req.Text, sources, req.SessionID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	s.state.RecordMessage(req.SessionID)
	s.state.UpdateSession(req.SessionID, normalizedScore(result.ThreatScore), false)
	raised := s.alerts.RaiseFromResult(result)

	blocked := false
	if req.ApplyBlocking {
		blocked = s.blocking.DecideAndApply(result, req.Text, req.SessionID)
	}

	if s.metrics != nil {
		s.metrics.AnalysesTotal.WithLabelValues(string(result.Strategy), string(result.ThreatLevel)).Inc()
		s.metrics.ThreatScore.Observe(result.ThreatScore)
	}

	return c.JSON(fiber.Map{
		"result":  result,
		"alerts":  len(raised),
		"blocked": blocked,
	})
}

// normalizedScore maps the unbounded fused score into the [0,1] session
// score range.
func normalizedScore(score float64) float64 {
	if score >= 2.5 {
		return 1.0
	}
	return score / 2.5
}

func (s *Server) handleAlerts(c fiber.Ctx) error {
	filter := security.AlertFilter{
		Limit:    fiber.Query(c, "limit", 50),
		Severity: security.ThreatLevel(c.Query("severity")),
		Type:     security.AlertType(c.Query("type")),
	}
	alerts := s.alerts.List(filter)
	return c.JSON(fiber.Map{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleBlock(c fiber.Ctx) error {
	var req struct {
		Reason          string `json:"reason"`
		Severity        string `json:"severity"`
		DurationSeconds int    `json:"duration_seconds"`
		SessionID       string `json:"session_id"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "reason is required"})
	}
	severity := security.ThreatLevel(req.Severity)
	if severity == "" {
		severity = security.LevelHigh
	}

	s.state.BlockSystem(req.Reason, severity, time.Duration(req.DurationSeconds)*time.Second)
	if req.SessionID != "" {
		s.state.UpdateSession(req.SessionID, 1.0, true)
	}
	s.alerts.Create(security.AlertSystem, severity, req.Reason, req.SessionID, nil)
	return c.JSON(fiber.Map{"blocked": true, "reason": req.Reason})
}

func (s *Server) handleUnblock(c fiber.Ctx) error {
	s.state.UnblockSystem()
	if s.metrics != nil {
		s.metrics.BlockedGauge.Set(0)
	}
	return c.JSON(fiber.Map{"blocked": false})
}

func (s *Server) handleReset(c fiber.Ctx) error {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	switch req.Scope {
	case "", "all":
		s.state.ResetAll()
		s.alerts.Reset()
	case "alerts":
		s.alerts.Reset()
	case "sessions":
		s.state.ResetSessions()
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scope must be all, alerts, or sessions"})
	}
	if s.metrics != nil {
		s.metrics.BlockedGauge.Set(0)
	}
	s.log.WithField("scope", req.Scope).Info("reset performed")
	return c.JSON(fiber.Map{"reset": true, "scope": req.Scope})
}

func (s *Server) handleReport(c fiber.Ctx) error {
	report := security.BuildReport(s.alerts, s.state, s.fusion.Status())
	return c.JSON(report)
}

func (s *Server) handleSessions(c fiber.Ctx) error {
	sessions := s.state.Sessions()
	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}
