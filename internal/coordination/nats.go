package coordination

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/k3nnethfrancis/helm/internal/config"
	"github.com/k3nnethfrancis/helm/internal/logging"
)

// NATSBackend is an alternative coordination mechanism: agents publish to
// subjects instead of writing files, and the backend subscribes across the
// same message-type taxonomy the filesystem backend classifies by path.
// Exercises the "polymorphic backends" note in spec.md §9 ("other
// mechanisms... are contemplated but not implemented") without touching
// filesystem-specific vocabulary in the Backend interface itself.
type NATSBackend struct {
	url     string
	subject string
	log     *logging.Logger

	mu          sync.Mutex
	conn        *nats.Conn
	sub         *nats.Subscription
	agentIDs    map[string]bool
	agentOrder  []string
	hubAgentID  string
	hubAndSpoke bool
	done        map[string]bool // completion signals observed by agent id ("" = shared)
}

// NewNATSBackend constructs the backend from backend_settings (recognizes
// "url", default "nats://127.0.0.1:4222", and "subject_prefix").
func NewNATSBackend(settings map[string]interface{}) (Backend, error) {
	b := &NATSBackend{
		url:      "nats://127.0.0.1:4222",
		subject:  "helm.coordination",
		log:      logging.Default.WithComponent("coordination.nats"),
		agentIDs: map[string]bool{},
		done:     map[string]bool{},
	}
	if v, ok := settings["url"].(string); ok && v != "" {
		b.url = v
	}
	if v, ok := settings["subject_prefix"].(string); ok && v != "" {
		b.subject = v
	}
	return b, nil
}

func (b *NATSBackend) Setup(ctx context.Context, experimentDir string, agents []config.AgentConfig, cfg config.CoordinationConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, tasksConfigured := resolveAliases(cfg.Paths)["tasks"]
	b.hubAndSpoke = tasksConfigured

	for _, a := range agents {
		b.agentIDs[a.ID] = true
		b.agentOrder = append(b.agentOrder, a.ID)
		if a.Role == config.RoleHub && b.hubAgentID == "" {
			b.hubAgentID = a.ID
		}
	}

	conn, err := nats.Connect(b.url, nats.Name("helm-coordination"), nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("connect to nats at %s: %w", b.url, err)
	}
	b.conn = conn
	return nil
}

func (b *NATSBackend) PromptInstructions(agentID string) string {
	return fmt.Sprintf("Coordination messages are exchanged over NATS subject %s.*; publish your updates there instead of writing files.", b.subject)
}

// StartWatching subscribes to the coordination wildcard subject and
// classifies each message by its subject suffix (the NATS analogue of a
// relative path), reusing classifyRelPath by replacing the dots of the
// subject suffix with slashes: "subject.tasks.<agent>.pending" becomes
// "tasks/<agent>/pending".
func (b *NATSBackend) StartWatching(ctx context.Context, sessions []AgentSession, deliverer Deliverer, onMessage OnMessage) error {
	b.mu.Lock()
	conn := b.conn
	agentIDs := make(map[string]bool, len(b.agentIDs))
	for k := range b.agentIDs {
		agentIDs[k] = true
	}
	hubAndSpoke := b.hubAndSpoke
	sessionByID := make(map[string]AgentSession, len(sessions))
	for _, s := range sessions {
		sessionByID[s.AgentID] = s
	}
	b.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("nats backend not set up")
	}

	sub, err := conn.Subscribe(b.subject+".>", func(msg *nats.Msg) {
		rel := strings.TrimPrefix(msg.Subject, b.subject+".")
		rel = strings.ReplaceAll(rel, ".", "/")

		cls, ok := classifyRelPath(rel, agentIDs, hubAndSpoke)
		if !ok {
			return
		}

		if cls.Type == CompletionSignal {
			b.mu.Lock()
			if cls.Sender != "" {
				b.done[cls.Sender] = true
			} else {
				b.done[""] = true
			}
			b.mu.Unlock()
		}

		m := Message{
			Timestamp:  time.Now(),
			Sender:     cls.Sender,
			Recipient:  cls.Recipient,
			Type:       cls.Type,
			Content:    string(msg.Data),
			SourcePath: msg.Subject,
			Metadata:   map[string]string{"transport": "nats"},
		}
		if m.Recipient == "" && !cls.skipNudge {
			if b.hubAgentID != "" {
				m.Recipient = b.hubAgentID
			} else {
				m.Recipient = Broadcast
			}
		}
		if deliverer != nil && !cls.skipNudge {
			nudgeText := buildNudgeText(cls.Type, m.Sender, m.SourcePath, m.Content)
			m.NudgeText = nudgeText
			targets := b.resolveTargets(m.Recipient, m.Sender, sessionByID)
			for _, t := range targets {
				if s, ok := sessionByID[t]; ok {
					if err := deliverer.PostMessage(ctx, s.SessionID, nudgeText); err == nil {
						m.Delivered = true
						m.DeliveryTimestamp = time.Now()
					}
				}
			}
		}
		if onMessage != nil {
			onMessage(m)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s.>: %w", b.subject, err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

func (b *NATSBackend) resolveTargets(recipient, sender string, sessions map[string]AgentSession) []string {
	if recipient == Broadcast {
		targets := make([]string, 0, len(sessions))
		for id := range sessions {
			if id != sender {
				targets = append(targets, id)
			}
		}
		return targets
	}
	if recipient == "" {
		return nil
	}
	return []string{recipient}
}

func (b *NATSBackend) StopWatching(ctx context.Context) error {
	b.mu.Lock()
	sub := b.sub
	b.mu.Unlock()
	if sub != nil {
		return sub.Drain()
	}
	return nil
}

func (b *NATSBackend) IsComplete(agentIDs []string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hubAndSpoke {
		return b.done[""]
	}
	for _, id := range agentIDs {
		if !b.done[id] {
			return false
		}
	}
	return len(agentIDs) > 0
}

func (b *NATSBackend) Teardown(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return nil
}
