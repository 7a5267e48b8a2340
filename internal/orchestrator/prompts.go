package orchestrator

import (
	"fmt"
	"strings"

	"github.com/relaydesk/relaydesk/internal/agents"
	"github.com/relaydesk/relaydesk/internal/memory"
)

// buildPrompts assembles the generation prompt: agent persona, a
// name-binding instruction, the memory context, and the inbound message.
func buildPrompts(agent agents.Agent, message Message, recall memory.RetrieveResult, displayName string) (string, string) {
	var system strings.Builder

	persona := agent.Description
	if persona == "" {
		persona = "a helpful customer support assistant"
	}
	fmt.Fprintf(&system, "You are %s, %s.\n", agent.Name, persona)
	system.WriteString("Answer the customer's message directly and concisely. Never mention internal systems or raw errors.\n")

	if displayName != "" {
		fmt.Fprintf(&system, "The customer's name is %s; address them by name when it feels natural.\n", displayName)
	}
	if recall.SubjectInfo != "" {
		fmt.Fprintf(&system, "Notes about the customer: %s\n", recall.SubjectInfo)
	}
	if len(recall.Memories) > 0 {
		system.WriteString("\nWhat you remember about this customer from past conversations:\n")
		for _, m := range recall.Memories {
			fmt.Fprintf(&system, "- %s\n", m.Content)
		}
	}

	return system.String(), message.Content
}
