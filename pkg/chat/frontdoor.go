package chat

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamsquare/sentinelle/pkg/security"
)

// RestrictedMessage is the only thing a blocked caller ever sees. The
// block reason stays with operators in alert details.
const RestrictedMessage = `🚫 **Accès Temporairement Restreint**

Pour des raisons de sécurité, cette conversation a été suspendue. Notre système de protection a détecté un contenu potentiellement malveillant.

**Que faire maintenant ?**
• Reformulez votre question de manière plus claire
• Contactez notre support si c'est une erreur
• Consultez nos conditions d'utilisation

**Support TeamSquare :** Nous sommes là pour vous aider de manière sécurisée ! 🛡️`

const agentErrorMessage = "Désolé, une erreur s'est produite. Veuillez réessayer."

// Response is the front door's answer to one message, with the screening
// verdict attached for the caller's metadata.
type Response struct {
	Content     string                           `json:"content"`
	SessionID   string                           `json:"session_id"`
	Blocked     bool                             `json:"blocked"`
	Restricted  bool                             `json:"restricted"`
	ThreatLevel security.ThreatLevel             `json:"threat_level"`
	Analysis    *security.SecurityAnalysisResult `json:"analysis,omitempty"`
	Timestamp   time.Time                        `json:"timestamp"`
}

// FrontDoor screens every inbound message, then delegates clean ones to
// the dialogue agent.
type FrontDoor struct {
	fusion   *security.FusionEngine
	blocking *security.BlockingEngine
	state    *security.StateManager
	agent    Agent
	maxLen   int
	log      *logrus.Logger
}

// NewFrontDoor wires the front door. agent may be nil, selecting the
// built-in support assistant.
func NewFrontDoor(fusion *security.FusionEngine, blocking *security.BlockingEngine, state *security.StateManager, agent Agent, maxLen int, log *logrus.Logger) *FrontDoor {
	if agent == nil {
		agent = NewSupportAgent()
	}
	if maxLen <= 0 {
		maxLen = 4000
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FrontDoor{
		fusion:   fusion,
		blocking: blocking,
		state:    state,
		agent:    agent,
		maxLen:   maxLen,
		log:      log,
	}
}

// HandleMessage runs the full turn: blocked gate, keyword pre-screen,
// blocking decision, then the agent. Empty messages are rejected before
// any state mutation. A screening failure never prevents a response; the
// message is answered as if safe and the failure logged.
func (f *FrontDoor) HandleMessage(ctx context.Context, message, sessionID string) (*Response, error) {
	if strings.TrimSpace(message) == "" {
		return nil, security.ErrEmptyInput
	}
	if runes := []rune(message); len(runes) > f.maxLen {
		message = string(runes[:f.maxLen])
	}

	// Blocked callers get the fixed restricted message and no analysis at
	// all for this turn.
	if f.state.IsBlocked(sessionID) {
		return &Response{
			Content:     RestrictedMessage,
			SessionID:   sessionID,
			Blocked:     true,
			Restricted:  true,
			ThreatLevel: security.LevelCritical,
			Timestamp:   time.Now().UTC(),
		}, nil
	}

	f.state.RecordMessage(sessionID)

	blocked := false
	var result *security.SecurityAnalysisResult
	result, err := f.fusion.AnalyzeKeywords(message, sessionID)
	if err != nil {
		f.log.WithError(err).Error("pre-screen failed, answering as safe")
	} else {
		blocked = f.blocking.DecideAndApply(result, message, sessionID)
	}

	if blocked {
		return &Response{
			Content:     RestrictedMessage,
			SessionID:   sessionID,
			Blocked:     true,
			Restricted:  true,
			ThreatLevel: result.ThreatLevel,
			Analysis:    result,
			Timestamp:   time.Now().UTC(),
		}, nil
	}

	content, err := f.agent.Respond(ctx, message, sessionID)
	if err != nil {
		f.log.WithError(err).Error("agent failed")
		content = agentErrorMessage
	}

	resp := &Response{
		Content:   content,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
	if result != nil {
		resp.ThreatLevel = result.ThreatLevel
		resp.Analysis = result
	}
	return resp, nil
}
