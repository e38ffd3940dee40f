// Package chat is the conversational front door: every inbound message is
// screened before any dialogue agent sees it, and blocked callers get a
// fixed restricted-access message.
package chat

import (
	"context"
	"strings"
)

// Agent produces the conversational answer for an already-screened message.
type Agent interface {
	Respond(ctx context.Context, message, sessionID string) (string, error)
}

// cannedResponse pairs a trigger keyword with its reply. Entries are
// matched in order so a message hitting several keywords always gets the
// same answer.
type cannedResponse struct {
	keyword  string
	response string
}

// SupportAgent is the built-in keyword-driven assistant used when no
// external agent is configured.
type SupportAgent struct {
	responses []cannedResponse
	fallback  string
}

// NewSupportAgent builds the default French support assistant.
func NewSupportAgent() *SupportAgent {
	return &SupportAgent{
		responses: []cannedResponse{
			{"teamsquare", "TeamSquare est une plateforme de collaboration d'équipe innovante."},
			{"bonjour", "Bonjour ! Je suis votre assistant IA. Comment puis-je vous aider ?"},
			{"aide", "Je peux vous aider avec des questions sur TeamSquare et le support technique."},
			{"commande", "Pour toute question sur votre commande, indiquez-moi son numéro."},
			{"merci", "Avec plaisir ! N'hésitez pas si vous avez d'autres questions."},
		},
		fallback: "Je suis un assistant IA simple. Posez-moi des questions sur TeamSquare !",
	}
}

// Respond implements Agent with first-match lookup over the canned
// responses.
func (a *SupportAgent) Respond(_ context.Context, message, _ string) (string, error) {
	lower := strings.ToLower(message)
	for _, c := range a.responses {
		if strings.Contains(lower, c.keyword) {
			return c.response, nil
		}
	}
	return a.fallback, nil
}
