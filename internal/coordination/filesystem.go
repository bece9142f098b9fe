package coordination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/k3nnethfrancis/helm/internal/config"
	"github.com/k3nnethfrancis/helm/internal/logging"
)

// MaxNudgeContent caps the body forwarded into a nudge; the full content is
// always recorded on the Message regardless of this cap (I1, lossless).
const MaxNudgeContent = 4000

const defaultPollInterval = 2 * time.Second

var canonicalAliases = []string{"tasks", "status", "blocked", "questions", "decisions", "messages", "state", "signals", "reviews"}

// FilesystemBackend is the filesystem + nudge coordination mechanism,
// grounded on original_source/src/helm/coordination/filesystem_nudge.py.
type FilesystemBackend struct {
	pollInterval time.Duration
	log          *logging.Logger

	mu             sync.Mutex
	experimentDir  string
	coordRoot      string
	workspaceRoot  string
	agentIDs       map[string]bool
	agentOrder     []string
	agentByID      map[string]AgentSession
	hubAgentID     string
	hubAndSpoke    bool
	known          map[string]bool // seen coordination paths
	knownWorkspace map[string]bool // seen workspace paths

	stopCh chan struct{}
	doneCh chan struct{}
	watcher *fsnotify.Watcher
	onMessage OnMessage
}

// NewFilesystemBackend constructs the backend from backend_settings
// (recognizes "poll_interval_seconds" and "hub_agent_id").
func NewFilesystemBackend(settings map[string]interface{}) (Backend, error) {
	b := &FilesystemBackend{
		pollInterval:   defaultPollInterval,
		log:            logging.Default.WithComponent("coordination"),
		known:          make(map[string]bool),
		knownWorkspace: make(map[string]bool),
		agentIDs:       make(map[string]bool),
		agentByID:      make(map[string]AgentSession),
	}
	if v, ok := settings["poll_interval_seconds"]; ok {
		if f, ok := toFloat(v); ok && f > 0 {
			b.pollInterval = time.Duration(f * float64(time.Second))
		}
	}
	if v, ok := settings["hub_agent_id"].(string); ok {
		b.hubAgentID = v
	}
	return b, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Setup creates the coordination tree and, if a tasks alias is present,
// the per-agent pending/completed task directories (hub-and-spoke mode).
func (b *FilesystemBackend) Setup(ctx context.Context, experimentDir string, agents []config.AgentConfig, cfg config.CoordinationConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.experimentDir = experimentDir
	base := cfg.Paths.Base
	if base == "" {
		base = "coordination"
	}
	b.coordRoot = filepath.Join(experimentDir, base)
	b.workspaceRoot = filepath.Join(experimentDir, "workspace")

	if err := os.MkdirAll(b.coordRoot, 0o755); err != nil {
		return fmt.Errorf("create coordination root: %w", err)
	}
	if err := os.MkdirAll(b.workspaceRoot, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}

	aliases := resolveAliases(cfg.Paths)
	_, tasksConfigured := aliases["tasks"]
	b.hubAndSpoke = tasksConfigured

	for alias, name := range aliases {
		if strings.Contains(lastSegment(name), ".") {
			continue // file-like alias, not a directory
		}
		if err := os.MkdirAll(filepath.Join(b.coordRoot, name), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", alias, err)
		}
	}

	for _, a := range agents {
		b.agentIDs[a.ID] = true
		b.agentOrder = append(b.agentOrder, a.ID)
		if a.Role == config.RoleHub && b.hubAgentID == "" {
			b.hubAgentID = a.ID
		}
	}

	if b.hubAndSpoke {
		tasksDir := filepath.Join(b.coordRoot, "tasks")
		for _, a := range agents {
			for _, sub := range []string{"pending", "completed"} {
				if err := os.MkdirAll(filepath.Join(tasksDir, a.ID, sub), 0o755); err != nil {
					return fmt.Errorf("create tasks/%s/%s: %w", a.ID, sub, err)
				}
			}
		}
	}

	known, err := scanTree(b.coordRoot)
	if err != nil {
		return fmt.Errorf("initial coordination scan: %w", err)
	}
	b.known = known

	knownWS, err := scanTree(b.workspaceRoot)
	if err != nil {
		return fmt.Errorf("initial workspace scan: %w", err)
	}
	b.knownWorkspace = knownWS

	return nil
}

func resolveAliases(p config.CoordinationPaths) map[string]string {
	out := map[string]string{}
	add := func(alias, val string) {
		if val != "" {
			out[alias] = val
		}
	}
	add("tasks", p.Tasks)
	add("status", p.Status)
	add("blocked", p.Blocked)
	add("questions", p.Questions)
	add("decisions", p.Decisions)
	add("messages", p.Messages)
	add("state", p.State)
	add("signals", p.Signals)
	add("reviews", p.Reviews)
	return out
}

func lastSegment(p string) string {
	parts := strings.Split(strings.ReplaceAll(p, "\\", "/"), "/")
	return parts[len(parts)-1]
}

func scanTree(root string) (map[string]bool, error) {
	seen := make(map[string]bool)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		seen[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return seen, nil
}

// PromptInstructions returns "": the filesystem backend needs no extra
// per-agent prompt text beyond the environment block the controller
// already supplies.
func (b *FilesystemBackend) PromptInstructions(agentID string) string { return "" }

// StartWatching launches the poll loop as a goroutine. fsnotify supplies an
// early-wake signal; the scan/classify/seen-set logic itself is unaffected
// by whether the wake came from a timer or a filesystem event.
func (b *FilesystemBackend) StartWatching(ctx context.Context, sessions []AgentSession, deliverer Deliverer, onMessage OnMessage) error {
	b.mu.Lock()
	for _, s := range sessions {
		b.agentByID[s.AgentID] = s
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.onMessage = onMessage
	b.mu.Unlock()

	wake := make(chan struct{}, 1)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		_ = watcher.Add(b.coordRoot)
		_ = filepath.Walk(b.coordRoot, func(p string, info os.FileInfo, walkErr error) error {
			if walkErr == nil && info.IsDir() {
				_ = watcher.Add(p)
			}
			return nil
		})
		_ = watcher.Add(b.workspaceRoot)
		b.mu.Lock()
		b.watcher = watcher
		b.mu.Unlock()
		go func() {
			for {
				select {
				case _, ok := <-watcher.Events:
					if !ok {
						return
					}
					select {
					case wake <- struct{}{}:
					default:
					}
				case <-watcher.Errors:
				case <-b.stopCh:
					return
				}
			}
		}()
	}

	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.pollOnce(ctx, deliverer, onMessage, true)
			case <-wake:
				b.pollOnce(ctx, deliverer, onMessage, true)
			}
		}
	}()

	return nil
}

// StopWatching cancels the poll goroutine, then performs one final scan
// with delivery suppressed so late-arriving files are still recorded.
func (b *FilesystemBackend) StopWatching(ctx context.Context) error {
	b.mu.Lock()
	stopCh := b.stopCh
	doneCh := b.doneCh
	watcher := b.watcher
	onMessage := b.onMessage
	b.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}
	if watcher != nil {
		_ = watcher.Close()
	}

	b.pollOnce(ctx, nil, onMessage, false)
	return nil
}

func (b *FilesystemBackend) Teardown(ctx context.Context) error {
	return nil
}

// IsComplete reports completion: in hub-and-spoke mode, signals/done;
// otherwise signals/<agent>.done for every agent in agentIDs.
func (b *FilesystemBackend) IsComplete(agentIDs []string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hubAndSpoke {
		_, err := os.Stat(filepath.Join(b.coordRoot, "signals", "done"))
		return err == nil
	}
	for _, id := range agentIDs {
		if _, err := os.Stat(filepath.Join(b.coordRoot, "signals", id+".done")); err != nil {
			return false
		}
	}
	return len(agentIDs) > 0
}

// pollOnce scans the coordination tree and the workspace tree, classifies
// newly observed paths, and (if deliver) posts nudges. Errors are logged,
// never propagated, so one bad iteration cannot kill the loop (§4.1).
func (b *FilesystemBackend) pollOnce(ctx context.Context, deliverer Deliverer, onMessage OnMessage, deliver bool) {
	b.mu.Lock()
	coordRoot := b.coordRoot
	workspaceRoot := b.workspaceRoot
	b.mu.Unlock()

	current, err := scanTree(coordRoot)
	if err != nil {
		b.log.Warn("coordination scan failed", map[string]interface{}{"error": err.Error()})
		current = map[string]bool{}
	}
	currentWS, err := scanTree(workspaceRoot)
	if err != nil {
		b.log.Warn("workspace scan failed", map[string]interface{}{"error": err.Error()})
		currentWS = map[string]bool{}
	}

	b.mu.Lock()
	var newCoord, newWS []string
	for p := range current {
		if !b.known[p] {
			newCoord = append(newCoord, p)
		}
	}
	for p := range currentWS {
		if !b.knownWorkspace[p] {
			newWS = append(newWS, p)
		}
	}
	b.known = current
	b.knownWorkspace = currentWS
	b.mu.Unlock()

	sort.Strings(newCoord)
	sort.Strings(newWS)

	for _, rel := range newCoord {
		b.handleNewFile(ctx, rel, deliverer, onMessage, deliver)
	}
	for _, rel := range newWS {
		b.handleWorkspaceFile(ctx, rel, deliverer, onMessage, deliver)
	}
}

func (b *FilesystemBackend) handleNewFile(ctx context.Context, rel string, deliverer Deliverer, onMessage OnMessage, deliver bool) {
	b.mu.Lock()
	agentIDs := make(map[string]bool, len(b.agentIDs))
	for k := range b.agentIDs {
		agentIDs[k] = true
	}
	hubAndSpoke := b.hubAndSpoke
	coordRoot := b.coordRoot
	b.mu.Unlock()

	cls, ok := classifyRelPath(rel, agentIDs, hubAndSpoke)
	if !ok {
		return
	}

	fullPath := filepath.Join(coordRoot, rel)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		b.log.Warn("read coordination file failed", map[string]interface{}{"path": rel, "error": err.Error()})
		return
	}

	sender := b.resolveAgentToken(cls.Sender)
	recipient := cls.Recipient
	if recipient == "" {
		recipient = b.findRecipientOrAll()
	} else if recipient != Broadcast {
		recipient = b.resolveAgentToken(recipient)
	}

	msg := Message{
		Timestamp:  time.Now(),
		Sender:     sender,
		Recipient:  recipient,
		Type:       cls.Type,
		Content:    string(content),
		SourcePath: rel,
		Metadata:   map[string]string{},
	}

	shouldNudge := deliver && !cls.skipNudge
	if shouldNudge {
		b.deliverNudge(ctx, &msg, deliverer, buildNudgeText(cls.Type, sender, rel, string(content)))
	}

	if onMessage != nil {
		onMessage(msg)
	}
}

func (b *FilesystemBackend) handleWorkspaceFile(ctx context.Context, rel string, deliverer Deliverer, onMessage OnMessage, deliver bool) {
	fullPath := filepath.Join(b.workspaceRoot, rel)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return
	}

	msg := Message{
		Timestamp:  time.Now(),
		Recipient:  Broadcast,
		Type:       StatusUpdate,
		Content:    string(content),
		SourcePath: filepath.Join("workspace", rel),
		Metadata:   map[string]string{"artifact": "true"},
	}

	if deliver {
		header := fmt.Sprintf("[Artifact Created] %s", msg.SourcePath)
		b.deliverNudge(ctx, &msg, deliverer, buildNudgeBody(header, msg.SourcePath, string(content)))
	}
	if onMessage != nil {
		onMessage(msg)
	}
}

// resolveAgentToken resolves sentinel sender/recipient tokens ("__hub__")
// to the concrete hub agent id.
func (b *FilesystemBackend) resolveAgentToken(token string) string {
	if token == "__hub__" {
		return b.findHub()
	}
	return token
}

// findHub resolves the hub: explicit hub_agent_id, else first agent with
// role hub (folded into hubAgentID at Setup); failing both, nothing in a
// peer-only pattern (no hub to route to), else the first configured agent
// (legacy fallback).
func (b *FilesystemBackend) findHub() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hubAgentID != "" {
		return b.hubAgentID
	}
	if !b.hubAndSpoke {
		return ""
	}
	if len(b.agentOrder) > 0 {
		return b.agentOrder[0] // legacy fallback: first configured agent
	}
	return ""
}

func (b *FilesystemBackend) findRecipientOrAll() string {
	hub := b.findHub()
	if hub != "" {
		return hub
	}
	return Broadcast
}

func (b *FilesystemBackend) deliverNudge(ctx context.Context, msg *Message, deliverer Deliverer, nudgeText string) {
	msg.NudgeText = nudgeText
	if deliverer == nil {
		return
	}

	targets := b.resolveDeliveryTargets(msg.Recipient, msg.Sender)
	delivered := false
	for _, target := range targets {
		session, ok := b.agentByID[target]
		if !ok {
			continue
		}
		if err := deliverer.PostMessage(ctx, session.SessionID, nudgeText); err != nil {
			b.log.Warn("nudge delivery failed", map[string]interface{}{"recipient": target, "error": err.Error()})
			continue
		}
		delivered = true
		b.log.Nudge(target, string(msg.Type), true)
	}
	if delivered {
		msg.Delivered = true
		msg.DeliveryTimestamp = time.Now()
	}
}

func (b *FilesystemBackend) resolveDeliveryTargets(recipient, sender string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if recipient == Broadcast {
		targets := make([]string, 0, len(b.agentByID))
		for id := range b.agentByID {
			if id != sender {
				targets = append(targets, id)
			}
		}
		sort.Strings(targets)
		return targets
	}
	if recipient == "" {
		return nil
	}
	return []string{recipient}
}

func truncateForNudge(content, sourcePath string) string {
	if len(content) <= MaxNudgeContent {
		return content
	}
	return fmt.Sprintf("%s\n...truncated at %d chars — read full file at %s", content[:MaxNudgeContent], MaxNudgeContent, sourcePath)
}

func buildNudgeText(msgType MessageType, sender, sourcePath, content string) string {
	header := fmt.Sprintf("[Coordination] %s from %s", msgType, sender)
	return buildNudgeBody(header, sourcePath, content)
}

func buildNudgeBody(header, sourcePath, content string) string {
	body := truncateForNudge(content, sourcePath)
	return fmt.Sprintf("%s\nFile: %s\n\n%s\n\nAct on this information and continue your work.", header, sourcePath, body)
}
