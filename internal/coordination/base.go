// Package coordination implements the filesystem-mediated coordination
// backend: a directory watcher that classifies newly appeared agent
// artifacts by path convention and actively delivers their content back to
// the appropriate recipients as conversational nudges.
package coordination

import (
	"context"
	"time"

	"github.com/k3nnethfrancis/helm/internal/config"
)

// MessageType classifies a coordination message by its path convention.
type MessageType string

const (
	TaskAssignment   MessageType = "task_assignment"
	StatusUpdate     MessageType = "status_update"
	CompletionSignal MessageType = "completion_signal"
	Question         MessageType = "question"
	Decision         MessageType = "decision"
	PeerMessage      MessageType = "peer_message"
	Nudge            MessageType = "nudge"
)

// Broadcast is the synthetic recipient denoting "every agent except sender".
const Broadcast = "__all__"

// Message is a single classified coordination event, recorded losslessly:
// Content always carries the full body even when the text delivered to an
// agent as a nudge is truncated (I1).
type Message struct {
	Timestamp         time.Time
	Sender            string
	Recipient         string
	Type              MessageType
	Content           string
	SourcePath        string
	Delivered         bool
	DeliveryTimestamp time.Time
	NudgeText         string
	Metadata          map[string]string
}

// Deliverer posts a conversational nudge into an agent's session. The
// controller's session client implements this.
type Deliverer interface {
	PostMessage(ctx context.Context, sessionID string, message string) error
}

// AgentSession maps an agent id to the session id the controller created
// for it, so the backend can resolve "deliver to agent X" into a concrete
// session.
type AgentSession struct {
	AgentID   string
	SessionID string
	Role      config.AgentRole
}

// OnMessage is invoked once per classified message, after delivery has been
// attempted (or deliberately suppressed).
type OnMessage func(Message)

// Backend is the polymorphic coordination mechanism interface (§9:
// "the interface should remain free of filesystem-specific vocabulary").
// A registry keyed by mechanism name constructs the configured
// implementation; see registry.go.
type Backend interface {
	// Setup prepares the backend's storage (directories, subjects, ...)
	// under experimentDir for the given agent roster and configuration.
	Setup(ctx context.Context, experimentDir string, agents []config.AgentConfig, cfg config.CoordinationConfig) error

	// PromptInstructions returns backend-specific text to append to an
	// agent's opening message, or "" if none.
	PromptInstructions(agentID string) string

	// StartWatching begins delivering nudges for newly observed messages.
	StartWatching(ctx context.Context, sessions []AgentSession, deliverer Deliverer, onMessage OnMessage) error

	// StopWatching cancels the watch loop, then performs one final scan
	// with delivery suppressed so late-arriving files are still recorded.
	StopWatching(ctx context.Context) error

	// IsComplete reports whether every configured agent (or the shared
	// hub-and-spoke signal) has signaled completion.
	IsComplete(agentIDs []string) bool

	// Teardown releases the backend's remaining resources (such as a
	// connection opened by Setup); the watch loop and its watchers are
	// released by StopWatching.
	Teardown(ctx context.Context) error
}
