package security

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SystemThreatLevel is the coarse global posture, distinct from the
// per-analysis ThreatLevel.
type SystemThreatLevel string

const (
	SystemSafe    SystemThreatLevel = "safe"
	SystemWarning SystemThreatLevel = "warning"
	SystemDanger  SystemThreatLevel = "danger"
)

// SystemState is the process-wide security posture snapshot.
type SystemState struct {
	Blocked              bool              `json:"blocked"`
	ThreatLevel          SystemThreatLevel `json:"threat_level"`
	BlockReason          string            `json:"block_reason,omitempty"`
	BlockTime            *time.Time        `json:"block_time,omitempty"`
	LastBlockTime        *time.Time        `json:"last_block_time,omitempty"`
	TotalThreatsDetected int               `json:"total_threats_detected"`
	ActiveThreats        []Alert           `json:"active_threats"`
}

// SessionActivity tracks one conversation. threat_score is a running
// maximum and blocked is sticky until an explicit reset.
type SessionActivity struct {
	SessionID     string    `json:"session_id"`
	MessagesCount int       `json:"messages_count"`
	FirstActivity time.Time `json:"first_activity"`
	LastActivity  time.Time `json:"last_activity"`
	ThreatScore   float64   `json:"threat_score"`
	Blocked       bool      `json:"blocked"`
}

// StateManager owns SystemState and the session map. All mutation goes
// through its methods under one mutex; callers only ever see copies.
type StateManager struct {
	mu       sync.RWMutex
	state    SystemState
	sessions map[string]*SessionActivity

	// blockGen invalidates pending auto-unblock timers: a timer only acts
	// if the generation it captured is still current.
	blockGen uint64

	log *logrus.Logger
}

// NewStateManager returns a manager with a clean initial state.
func NewStateManager(log *logrus.Logger) *StateManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StateManager{
		state:    SystemState{ThreatLevel: SystemSafe, ActiveThreats: []Alert{}},
		sessions: make(map[string]*SessionActivity),
		log:      log,
	}
}

// BlockSystem transitions the system to blocked. Idempotent when already
// blocked: the reason and timestamps are overwritten with the latest cause.
// A positive duration schedules an auto-unblock that is cancelled by any
// later manual unblock or re-block.
func (m *StateManager) BlockSystem(reason string, severity ThreatLevel, duration time.Duration) {
	m.mu.Lock()
	now := time.Now().UTC()
	m.state.Blocked = true
	m.state.BlockReason = reason
	m.state.BlockTime = &now
	m.state.LastBlockTime = &now
	if severity == LevelCritical {
		m.state.ThreatLevel = SystemDanger
	} else if m.state.ThreatLevel == SystemSafe {
		m.state.ThreatLevel = SystemWarning
	}
	m.blockGen++
	gen := m.blockGen
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"reason":   reason,
		"severity": severity,
		"duration": duration,
	}).Warn("system blocked")

	if duration > 0 {
		go func() {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			<-timer.C
			if m.unblockIfGeneration(gen) {
				m.log.WithField("after", duration).Info("auto-unblock timer elapsed")
			}
		}()
	}
}

// unblockIfGeneration clears the block only if no newer block or unblock
// landed since gen was captured. The generation check and the state
// mutation happen in one critical section so a stale timer can never wipe
// out a block placed after its check.
func (m *StateManager) unblockIfGeneration(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockGen != gen || !m.state.Blocked {
		return false
	}
	m.state.Blocked = false
	m.state.BlockReason = ""
	m.state.BlockTime = nil
	m.state.ThreatLevel = SystemSafe
	m.state.ActiveThreats = []Alert{}
	m.blockGen++
	return true
}

// UnblockSystem clears the block, the reason, the active threats, and
// resets the global threat level. Idempotent.
func (m *StateManager) UnblockSystem() {
	m.mu.Lock()
	m.state.Blocked = false
	m.state.BlockReason = ""
	m.state.BlockTime = nil
	m.state.ThreatLevel = SystemSafe
	m.state.ActiveThreats = []Alert{}
	m.blockGen++
	m.mu.Unlock()

	m.log.Info("system unblocked")
}

// RecordThreat is called by the alert store on every created alert. It
// bumps the monotonic counter, escalates the global level, and tracks
// critical alerts as active threats.
func (m *StateManager) RecordThreat(alert Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalThreatsDetected++
	switch {
	case alert.Severity == LevelCritical:
		m.state.ThreatLevel = SystemDanger
		m.state.ActiveThreats = append(m.state.ActiveThreats, alert)
	case alert.Severity == LevelHigh && m.state.ThreatLevel == SystemSafe:
		m.state.ThreatLevel = SystemWarning
	}
}

// RecordMessage counts an analyzed message against its session, creating
// the session record lazily.
func (m *StateManager) RecordMessage(sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(sessionID)
	s.MessagesCount++
	s.LastActivity = time.Now().UTC()
}

// UpdateSession merges new threat evidence into a session: the score keeps
// its running maximum and blocked is sticky once set.
func (m *StateManager) UpdateSession(sessionID string, threatScore float64, blocked bool) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(sessionID)
	if threatScore > s.ThreatScore {
		s.ThreatScore = threatScore
	}
	s.Blocked = s.Blocked || blocked
	s.LastActivity = time.Now().UTC()
}

func (m *StateManager) sessionLocked(sessionID string) *SessionActivity {
	s, ok := m.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		s = &SessionActivity{SessionID: sessionID, FirstActivity: now, LastActivity: now}
		m.sessions[sessionID] = s
	}
	return s
}

// IsBlocked is the single gate every inbound message passes before any
// agent processing: true if the system or the session is blocked.
func (m *StateManager) IsBlocked(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Blocked {
		return true
	}
	if s, ok := m.sessions[sessionID]; ok {
		return s.Blocked
	}
	return false
}

// Snapshot returns a copy of the current system state.
func (m *StateManager) Snapshot() SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.state
	st.ActiveThreats = append([]Alert(nil), m.state.ActiveThreats...)
	return st
}

// Session returns a copy of one session's activity.
func (m *StateManager) Session(sessionID string) (SessionActivity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return SessionActivity{}, false
	}
	return *s, true
}

// Sessions returns copies of all session records.
func (m *StateManager) Sessions() []SessionActivity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionActivity, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// ResetSessions clears the session map only.
func (m *StateManager) ResetSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*SessionActivity)
}

// ResetAll restores the initial state and clears all sessions. Pending
// auto-unblock timers are invalidated.
func (m *StateManager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = SystemState{ThreatLevel: SystemSafe, ActiveThreats: []Alert{}}
	m.sessions = make(map[string]*SessionActivity)
	m.blockGen++
}
