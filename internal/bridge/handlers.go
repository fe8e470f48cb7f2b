package bridge

import (
	"politicalsim/bridge/internal/logging"
	"politicalsim/bridge/internal/protocol"
	"politicalsim/bridge/internal/transport"
)

// handlePlayerDecision relays a player decision inbound from the political
// engine to any internal observers.
func (m *Manager) handlePlayerDecision(c *transport.Connection, env *protocol.Envelope) error {
	m.logger.Info("player decision received", logging.Field{Key: "sender", Value: env.Header.Sender})
	m.emit("player_decision", env.Payload)
	return nil
}

// handleAdvisorAppoint relays an advisor appointment to internal observers.
func (m *Manager) handleAdvisorAppoint(c *transport.Connection, env *protocol.Envelope) error {
	m.logger.Info("advisor appointment", logging.Field{Key: "sender", Value: env.Header.Sender})
	m.emit("advisor_appointment", env.Payload)
	return nil
}

// handleAdvisorDismissal relays an advisor dismissal to internal observers.
func (m *Manager) handleAdvisorDismissal(c *transport.Connection, env *protocol.Envelope) error {
	m.logger.Info("advisor dismissal", logging.Field{Key: "sender", Value: env.Header.Sender})
	m.emit("advisor_dismissal", env.Payload)
	return nil
}

// handleTurnAdvanceRequest marks the game engine ready for turn advancement;
// actual advancement still waits on the political engine's own readiness
// signal and the synchronizer's synchronized state.
func (m *Manager) handleTurnAdvanceRequest(c *transport.Connection, env *protocol.Envelope) error {
	m.logger.Info("turn advance requested", logging.Field{Key: "sender", Value: env.Header.Sender})
	m.turns.SetGameEngineReady(true)
	m.emit("turn_advance_request", env.Payload)
	return nil
}

// handleStateRequest replies with the current full game state to the
// requesting connection, if one is known.
func (m *Manager) handleStateRequest(c *transport.Connection, env *protocol.Envelope) error {
	m.logger.Info("state request received", logging.Field{Key: "sender", Value: env.Header.Sender})

	if state, ok := m.state.get(); ok {
		payload := map[string]any{"state": state}
		reply := protocol.ReplyEnvelope(protocol.MessageFullStateSync, "bridge", env.Header.Sender,
			protocol.PriorityNormal, env.Header.MessageID, payload)
		m.transport.Send(c.ID, reply)
	}
	m.emit("state_request", env.Payload)
	return nil
}
