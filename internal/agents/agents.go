// Package agents scores candidate agents against message content and picks
// the best match. The scorer is a cheap deterministic heuristic, not a
// learned ranker.
package agents

import (
	"log/slog"
	"sort"
	"strings"
)

// Priority levels understood by the scorer. Anything else is neutral.
const (
	PriorityHigh = "high"
	PriorityLow  = "low"
)

// DefaultAgentName is synthesized when a tenant has no agents configured.
const DefaultAgentName = "general assistant"

const (
	baseScore          = 0.5
	priorityBonus      = 0.2
	descriptionKeyword = 0.1
	nameKeyword        = 0.15
	minKeywordLen      = 4
)

// Agent is a tenant-owned assistant definition. Read-only here.
type Agent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Priority    string         `json:"priority,omitempty"`
	Enabled     *bool          `json:"enabled,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (a Agent) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Scored pairs an agent with its computed score.
type Scored struct {
	Agent Agent
	Score float64
}

// Selector scores and ranks agents.
type Selector struct {
	logger *slog.Logger
}

// NewSelector creates a Selector.
func NewSelector(log *slog.Logger) *Selector {
	if log == nil {
		log = slog.Default()
	}
	return &Selector{logger: log.With(slog.String("service", "agents"))}
}

// Score ranks agents against the message content, best first. The sort is
// stable: ties keep the original list order, so the ordering is fully
// deterministic for a given input.
func (s *Selector) Score(list []Agent, messageContent string) []Scored {
	content := strings.ToLower(messageContent)

	scored := make([]Scored, 0, len(list))
	for _, agent := range list {
		scored = append(scored, Scored{Agent: agent, Score: scoreOne(agent, content)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Select returns the best agent for the message. An empty agent list yields
// a synthesized general assistant rather than an error; a disabled winner is
// skipped in favor of the best enabled agent.
func (s *Selector) Select(list []Agent, messageContent string) Scored {
	if len(list) == 0 {
		return Scored{Agent: defaultAgent(), Score: 1.0}
	}
	ranked := s.Score(list, messageContent)
	for _, candidate := range ranked {
		if candidate.Agent.IsEnabled() {
			s.warnShadowedDisabled(list, candidate, strings.ToLower(messageContent))
			return candidate
		}
	}
	s.logger.Warn("all agents disabled; using default assistant")
	return Scored{Agent: defaultAgent(), Score: 1.0}
}

// warnShadowedDisabled flags disabled agents that would have outranked the
// winner, so an operator who switched off the best match for a message class
// sees the routing change instead of discovering it from replies.
func (s *Selector) warnShadowedDisabled(list []Agent, winner Scored, content string) {
	enabled := true
	for _, agent := range list {
		if agent.IsEnabled() {
			continue
		}
		hypothetical := agent
		hypothetical.Enabled = &enabled
		if scoreOne(hypothetical, content) > winner.Score {
			s.logger.Warn("disabled agent would have outranked the selection",
				slog.String("disabled_agent", agent.Name),
				slog.String("selected_agent", winner.Agent.Name))
		}
	}
}

func scoreOne(agent Agent, content string) float64 {
	if !agent.IsEnabled() {
		return 0
	}
	score := baseScore
	switch agent.Priority {
	case PriorityHigh:
		score += priorityBonus
	case PriorityLow:
		score -= priorityBonus
	}
	score += keywordScore(agent.Description, content, descriptionKeyword)
	score += keywordScore(agent.Name, content, nameKeyword)
	return score
}

// keywordScore awards weight for every word of the source text, longer than
// three characters, that appears in the message content.
func keywordScore(source, content string, weight float64) float64 {
	score := 0.0
	for _, word := range strings.Fields(strings.ToLower(source)) {
		word = strings.Trim(word, ".,!?:;\"'()")
		if len(word) < minKeywordLen {
			continue
		}
		if strings.Contains(content, word) {
			score += weight
		}
	}
	return score
}

func defaultAgent() Agent {
	return Agent{
		Name:        DefaultAgentName,
		Description: "A helpful general-purpose assistant that answers customer questions.",
	}
}
