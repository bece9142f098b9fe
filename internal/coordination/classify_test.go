package coordination

import "testing"

func agentSet(ids ...string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func TestClassifyRelPath_TaskAssignment(t *testing.T) {
	cls, ok := classifyRelPath("tasks/worker-a/pending/001.md", agentSet("worker-a"), true)
	if !ok {
		t.Fatal("expected match")
	}
	if cls.Type != TaskAssignment || cls.Sender != "__hub__" || cls.Recipient != "worker-a" {
		t.Fatalf("got %+v", cls)
	}
}

func TestClassifyRelPath_StatusUpdateFromStatusDir(t *testing.T) {
	cls, ok := classifyRelPath("status/worker-a.json", agentSet("worker-a"), true)
	if !ok {
		t.Fatal("expected match")
	}
	if cls.Type != StatusUpdate || cls.Sender != "worker-a" || cls.Recipient != "" {
		t.Fatalf("got %+v", cls)
	}
}

func TestClassifyRelPath_PeerMessage(t *testing.T) {
	cls, ok := classifyRelPath("messages/001-researcher-implementer.md", agentSet("researcher", "implementer"), false)
	if !ok {
		t.Fatal("expected match")
	}
	if cls.Type != PeerMessage || cls.Sender != "researcher" || cls.Recipient != "implementer" {
		t.Fatalf("got %+v", cls)
	}
}

func TestClassifyRelPath_PeerMessageBroadcast(t *testing.T) {
	cls, ok := classifyRelPath("messages/001-researcher-all.md", agentSet("researcher", "implementer"), false)
	if !ok {
		t.Fatal("expected match")
	}
	if cls.Recipient != Broadcast {
		t.Fatalf("expected broadcast recipient, got %q", cls.Recipient)
	}
}

func TestClassifyRelPath_CompletionSignal_HubSpokeSkipsNudge(t *testing.T) {
	cls, ok := classifyRelPath("signals/done", agentSet(), true)
	if !ok {
		t.Fatal("expected match")
	}
	if !cls.skipNudge {
		t.Fatal("expected hub-and-spoke completion signal to skip nudging")
	}
}

func TestClassifyRelPath_CompletionSignal_PeerBroadcasts(t *testing.T) {
	cls, ok := classifyRelPath("signals/implementer.done", agentSet("implementer"), false)
	if !ok {
		t.Fatal("expected match")
	}
	if cls.skipNudge || cls.Recipient != Broadcast {
		t.Fatalf("got %+v", cls)
	}
}

func TestClassifyRelPath_DecisionsBroadcastFromHub(t *testing.T) {
	cls, ok := classifyRelPath("decisions/001.md", agentSet(), true)
	if !ok {
		t.Fatal("expected match")
	}
	if cls.Type != Decision || cls.Sender != "__hub__" || cls.Recipient != Broadcast {
		t.Fatalf("got %+v", cls)
	}
}

func TestClassifyRelPath_BlockedQuestion(t *testing.T) {
	cls, ok := classifyRelPath("blocked/worker-a.txt", agentSet("worker-a"), true)
	if !ok {
		t.Fatal("expected match")
	}
	if cls.Type != Question || cls.Sender != "worker-a" {
		t.Fatalf("got %+v", cls)
	}
}

func TestParseMessageFilename_HyphenatedAgentIDs(t *testing.T) {
	sender, recipient, ok := parseMessageFilename("001-code-reviewer-task-owner.md", agentSet("code-reviewer", "task-owner"))
	if !ok {
		t.Fatal("expected match")
	}
	if sender != "code-reviewer" || recipient != "task-owner" {
		t.Fatalf("got sender=%q recipient=%q", sender, recipient)
	}
}
