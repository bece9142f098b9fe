package coordination

import (
	"path"
	"sort"
	"strings"
)

// classification is the result of matching a relative coordination path
// against the convention table in spec.md §4.1, before sender/recipient
// resolution against the live agent roster.
type classification struct {
	Type      MessageType
	Sender    string // "" means unresolved/none
	Recipient string // "" means resolve via hub-or-all; Broadcast is explicit
	// skipNudge marks completion signals in hub-and-spoke mode, which end
	// the experiment rather than being delivered as a conversational turn.
	skipNudge bool
}

// classifyRelPath classifies a coordination-relative path (forward-slash
// separated, no leading alias prefix differences — callers pass the path
// relative to the coordination root using the *canonical* alias names:
// tasks/, status/, messages/, signals/, decisions/, blocked/, questions/,
// reviews/) per the table in spec.md §4.1.
func classifyRelPath(rel string, agentIDs map[string]bool, hubAndSpoke bool) (classification, bool) {
	rel = path.Clean(filepathToSlash(rel))
	segments := strings.Split(rel, "/")
	if len(segments) == 0 {
		return classification{}, false
	}

	switch segments[0] {
	case "tasks":
		// tasks/<a>/pending/* or tasks/<a>/completed/*
		if len(segments) >= 3 {
			agent := segments[1]
			switch segments[2] {
			case "pending":
				return classification{Type: TaskAssignment, Sender: "__hub__", Recipient: agent}, true
			case "completed":
				return classification{Type: StatusUpdate, Sender: agent, Recipient: "__hub__"}, true
			}
		}
		return classification{}, false

	case "status":
		// status/<a>.json
		base := segments[len(segments)-1]
		if strings.HasSuffix(base, ".json") {
			agent := strings.TrimSuffix(base, ".json")
			return classification{Type: StatusUpdate, Sender: agent, Recipient: ""}, true
		}
		return classification{}, false

	case "messages":
		base := segments[len(segments)-1]
		sender, recipient, ok := parseMessageFilename(base, agentIDs)
		if !ok {
			return classification{}, false
		}
		if recipient == "all" {
			recipient = Broadcast
		}
		return classification{Type: PeerMessage, Sender: sender, Recipient: recipient}, true

	case "signals":
		base := segments[len(segments)-1]
		if base == "done" {
			if hubAndSpoke {
				return classification{Type: CompletionSignal, skipNudge: true}, true
			}
			return classification{Type: CompletionSignal, Recipient: Broadcast}, true
		}
		if strings.HasSuffix(base, ".done") {
			agent := strings.TrimSuffix(base, ".done")
			if hubAndSpoke {
				return classification{Type: CompletionSignal, Sender: agent, skipNudge: true}, true
			}
			return classification{Type: CompletionSignal, Sender: agent, Recipient: Broadcast}, true
		}
		return classification{}, false

	case "decisions":
		if len(segments) >= 2 && segments[1] != "" {
			return classification{Type: Decision, Sender: "__hub__", Recipient: Broadcast}, true
		}
		return classification{}, false

	case "blocked":
		base := segments[len(segments)-1]
		if dot := strings.IndexByte(base, '.'); dot > 0 {
			agent := base[:dot]
			return classification{Type: Question, Sender: agent, Recipient: ""}, true
		}
		return classification{}, false

	case "questions":
		if len(segments) >= 2 && segments[1] != "" {
			return classification{Type: Question, Recipient: ""}, true
		}
		return classification{}, false

	case "reviews":
		if len(segments) >= 2 && segments[1] != "" {
			return classification{Type: PeerMessage, Recipient: Broadcast}, true
		}
		return classification{}, false
	}

	return classification{Type: StatusUpdate}, true
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// parseMessageFilename extracts (sender, recipient) from a messages/ file
// name of the form "<prefix>-<sender>-<recipient>.<ext>", disambiguating
// hyphenated agent ids against the known roster, preferring the longest
// matching id pair anchored at the end of the filename stem.
func parseMessageFilename(filename string, agentIDs map[string]bool) (string, string, bool) {
	stem := filename
	if dot := strings.LastIndexByte(stem, '.'); dot > 0 {
		stem = stem[:dot]
	}

	candidates := make([]string, 0, len(agentIDs)+1)
	for id := range agentIDs {
		candidates = append(candidates, id)
	}
	candidates = append(candidates, "all")
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })

	for _, recipient := range candidates {
		suffix := "-" + recipient
		if !strings.HasSuffix(stem, suffix) {
			continue
		}
		rest := strings.TrimSuffix(stem, suffix)
		for _, sender := range candidates {
			if sender == "all" {
				continue
			}
			senderSuffix := "-" + sender
			if strings.HasSuffix(rest, senderSuffix) {
				return sender, recipient, true
			}
		}
	}
	return "", "", false
}
