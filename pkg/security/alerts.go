package security

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AlertType classifies what raised an alert.
type AlertType string

const (
	AlertVulnerability AlertType = "vulnerability"
	AlertNetwork       AlertType = "network"
	AlertIntent        AlertType = "intent"
	AlertSystem        AlertType = "system"
)

// DefaultAlertCapacity bounds the in-memory alert history.
const DefaultAlertCapacity = 100

// Alert severity boundaries from the per-type alert rules.
const (
	vulnAlertHighConfidence   = 0.8
	intentAlertHighConfidence = 0.7
)

// Alert is a persisted, operator-facing security event. Immutable after
// creation; removed only by eviction or reset.
type Alert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Severity  ThreatLevel    `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AlertStore is the bounded, newest-first alert history. Every creation
// feeds the state manager's threat counter and escalation rule.
type AlertStore struct {
	mu       sync.RWMutex
	alerts   []Alert // newest first
	capacity int
	state    *StateManager
	onCreate []func(Alert)
	log      *logrus.Logger
}

// NewAlertStore builds a store bound to a state manager. capacity <= 0
// selects the default of 100.
func NewAlertStore(state *StateManager, capacity int, log *logrus.Logger) *AlertStore {
	if capacity <= 0 {
		capacity = DefaultAlertCapacity
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AlertStore{
		capacity: capacity,
		state:    state,
		log:      log,
	}
}

// OnCreate registers a hook invoked after every alert creation, outside the
// store lock. Used for metrics, durable mirrors, and live feeds.
func (s *AlertStore) OnCreate(fn func(Alert)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate = append(s.onCreate, fn)
}

// Create records a new alert. It always succeeds: the oldest entry is
// evicted once the history exceeds capacity.
func (s *AlertStore) Create(typ AlertType, severity ThreatLevel, message, sessionID string, details map[string]any) Alert {
	now := time.Now().UTC()
	alert := Alert{
		ID:        fmt.Sprintf("alert_%d_%s", now.UnixNano(), uuid.NewString()[:8]),
		Type:      typ,
		Severity:  severity,
		Message:   message,
		Timestamp: now,
		SessionID: sessionID,
		Details:   details,
	}

	s.mu.Lock()
	s.alerts = append([]Alert{alert}, s.alerts...)
	if len(s.alerts) > s.capacity {
		s.alerts = s.alerts[:s.capacity]
	}
	hooks := slices.Clone(s.onCreate)
	s.mu.Unlock()

	if s.state != nil {
		s.state.RecordThreat(alert)
	}
	s.log.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"type":     typ,
		"severity": severity,
		"session":  sessionID,
	}).Warn(message)
	for _, fn := range hooks {
		fn(alert)
	}
	return alert
}

// RaiseFromResult creates one alert per signal that crosses its alert
// threshold, independent of any blocking decision:
// vulnerability alerts on any non-safe label, network on any non-normal
// label, intent only on a confirmed Malicious label.
func (s *AlertStore) RaiseFromResult(result *SecurityAnalysisResult) []Alert {
	var raised []Alert

	if sig, ok := result.Signal(SourceVulnerability); ok && sig.IsThreat() {
		severity := LevelMedium
		if sig.Confidence > vulnAlertHighConfidence {
			severity = LevelHigh
		}
		msg := fmt.Sprintf("Vulnérabilité %s détectée (confiance %.0f%%)", sig.Label, sig.Confidence*100)
		raised = append(raised, s.Create(AlertVulnerability, severity, msg, result.SessionID, signalDetails(sig)))
	}

	if sig, ok := result.Signal(SourceNetwork); ok && sig.IsThreat() {
		severity := LevelHigh
		if sig.Label == LabelDDOS {
			severity = LevelCritical
		}
		msg := fmt.Sprintf("Anomalie réseau %s détectée (confiance %.0f%%)", sig.Label, sig.Confidence*100)
		raised = append(raised, s.Create(AlertNetwork, severity, msg, result.SessionID, signalDetails(sig)))
	}

	if sig, ok := result.Signal(SourceIntent); ok && sig.Label == LabelMalicious {
		severity := LevelMedium
		if sig.Confidence > intentAlertHighConfidence {
			severity = LevelHigh
		}
		msg := fmt.Sprintf("Intention malveillante détectée (confiance %.0f%%)", sig.Confidence*100)
		raised = append(raised, s.Create(AlertIntent, severity, msg, result.SessionID, signalDetails(sig)))
	}

	return raised
}

func signalDetails(sig ThreatSignal) map[string]any {
	return map[string]any{
		"source":     sig.Source,
		"label":      sig.Label,
		"confidence": sig.Confidence,
		"method":     sig.Method,
	}
}

// AlertFilter narrows List results. Zero values mean "no constraint";
// Limit <= 0 defaults to 50.
type AlertFilter struct {
	Limit    int
	Severity ThreatLevel
	Type     AlertType
}

// List returns alerts newest first, optionally filtered.
func (s *AlertStore) List(filter AlertFilter) []Alert {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alert, 0, min(limit, len(s.alerts)))
	for _, a := range s.alerts {
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the current history length.
func (s *AlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Reset discards the whole history.
func (s *AlertStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
}
