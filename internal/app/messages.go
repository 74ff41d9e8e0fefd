package app

import (
	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/platform/errclass"
	"github.com/ehr/history/internal/platform/websocket"
)

// Message is the payload of a user message event.
type Message struct {
	Text     string            `json:"text"`
	Severity errclass.Severity `json:"severity"`
}

// LogMessages writes user messages to the log only.
type LogMessages struct {
	log zerolog.Logger
}

func NewLogMessages(logger zerolog.Logger) *LogMessages {
	return &LogMessages{log: logger.With().Str("component", "messages").Logger()}
}

func (m *LogMessages) ShowMessage(text string, severity errclass.Severity) {
	evt := m.log.Warn()
	if severity == errclass.SeverityError {
		evt = m.log.Error()
	}
	evt.Str("severity", string(severity)).Msg(text)
}

// HubMessages publishes user messages on the messages topic and logs them.
type HubMessages struct {
	hub *websocket.Hub
	log *LogMessages
}

func NewHubMessages(hub *websocket.Hub, logger zerolog.Logger) *HubMessages {
	return &HubMessages{hub: hub, log: NewLogMessages(logger)}
}

func (m *HubMessages) ShowMessage(text string, severity errclass.Severity) {
	m.log.ShowMessage(text, severity)
	if err := m.hub.PublishJSON(websocket.TopicMessages, websocket.EventMessage, Message{Text: text, Severity: severity}); err != nil {
		m.log.log.Error().Err(err).Msg("failed to publish message")
	}
}
