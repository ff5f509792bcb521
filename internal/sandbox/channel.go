package sandbox

import (
	"log/slog"

	"github.com/felixgeelhaar/gradebox/internal/domain"
	"github.com/felixgeelhaar/gradebox/internal/metrics"
)

// Message types accepted from an isolate.
const (
	MessageConsole     = "console"
	MessageError       = "error"
	MessageDOMSnapshot = "dom-snapshot"
	MessageReady       = "ready"
)

// Drop reasons, used as the metrics label.
const (
	DropOrigin     = "origin"
	DropSchema     = "schema"
	DropGeneration = "generation"
)

// Message is one postMessage call, stamped by the bridge that carried it.
type Message struct {
	Origin     string
	Generation uint64
	Payload    any
}

// Channel validates inbound messages and applies them to a run context.
// Callers serialize Apply; the host does so from its listener goroutine.
type Channel struct {
	origin string
	logger *slog.Logger
}

// NewChannel creates a channel that accepts messages targeting origin.
func NewChannel(origin string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{origin: origin, logger: logger}
}

// Origin returns the origin messages must target.
func (c *Channel) Origin() string {
	return c.origin
}

// Apply runs msg through the origin, schema and generation gates and, if it
// passes, applies its effect to rc. It returns the drop reason, or "" when
// the message was accepted.
func (c *Channel) Apply(rc *domain.RunContext, msg Message) string {
	if msg.Origin != c.origin {
		return c.drop(DropOrigin, msg)
	}

	payload, kind, ok := decodePayload(msg.Payload)
	if !ok {
		return c.drop(DropSchema, msg)
	}

	if msg.Generation != rc.Generation {
		return c.drop(DropGeneration, msg)
	}

	switch kind {
	case MessageConsole:
		if text, ok := payload["text"].(string); ok {
			rc.Lines = append(rc.Lines, domain.OutputLine{Text: text, Kind: domain.OutputStdout})
		}
	case MessageError:
		rc.ErrorCount++
		if text, ok := payload["text"].(string); ok {
			rc.Lines = append(rc.Lines, domain.OutputLine{Text: text, Kind: domain.OutputError})
		}
	case MessageDOMSnapshot:
		if snap, ok := payload["snapshot"].(map[string]any); ok {
			rc.Snapshot = domain.DOMSnapshot(snap)
		}
	case MessageReady:
	}
	return ""
}

func (c *Channel) drop(reason string, msg Message) string {
	c.logger.Debug("sandbox message dropped",
		"reason", reason,
		"origin", msg.Origin,
		"generation", msg.Generation,
	)
	metrics.ChannelDropped(reason)
	return reason
}

func decodePayload(v any) (map[string]any, string, bool) {
	payload, ok := v.(map[string]any)
	if !ok {
		return nil, "", false
	}
	kind, ok := payload["type"].(string)
	if !ok {
		return nil, "", false
	}
	switch kind {
	case MessageConsole, MessageError, MessageDOMSnapshot, MessageReady:
		return payload, kind, true
	}
	return nil, "", false
}
