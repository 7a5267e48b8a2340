// Package memory stores and retrieves embeddable facts about a subject in
// the tenant's data backend. Storage runs LLM fact extraction; retrieval is
// vector search with two keyword fallback tiers for short personal queries.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/backend"
	"github.com/relaydesk/relaydesk/internal/embeddings"
	"github.com/relaydesk/relaydesk/internal/llm"
)

const (
	memoriesTable = "memories"
	contactsTable = "contacts"

	matchMemoriesFn = "match_memories"

	// matchThreshold is the minimum cosine similarity for a vector hit.
	matchThreshold = 0.3

	defaultRetrieveLimit = 5
	recentScanLimit      = 10
	extractMaxTokens     = 1024
)

// Keyword tiers for the zero-hit fallbacks. Preference is checked before
// location; the order is a fixed tie-break.
var (
	preferenceKeywords = []string{"prefer", "like", "favorite", "favourite", "my", "about me"}
	locationKeywords   = []string{"where", "city", "live", "location", "address"}
)

var (
	nameIsPattern = regexp.MustCompile(`(?i)\bmy name is ([\p{L}][\p{L}'-]*)`)
	callMePattern = regexp.MustCompile(`(?i)\bcall me ([\p{L}][\p{L}'-]*)`)
)

// Service is the memory subsystem. It is tenant-agnostic: every operation
// takes the resolved backend handle for the tenant it should act on.
type Service struct {
	logger    *slog.Logger
	generator llm.Generator
	embedder  embeddings.Embedder
	now       func() time.Time
}

// NewService creates a memory Service.
func NewService(log *slog.Logger, generator llm.Generator, embedder embeddings.Embedder) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:    log.With(slog.String("service", "memory")),
		generator: generator,
		embedder:  embedder,
		now:       time.Now,
	}
}

// Store extracts memory candidates from the content and inserts one row per
// candidate. Individual candidate failures are logged and skipped; the
// returned count is the number of rows actually inserted.
func (s *Service) Store(ctx context.Context, client backend.Client, content, subjectID, messageID string) (int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, nil
	}
	candidates, err := s.extract(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("memory: extract: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	stored := 0
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate.Content) == "" {
			continue
		}
		vector, err := s.embedder.Embed(ctx, candidate.Content)
		if err != nil {
			s.logger.Warn("candidate embedding failed; skipping",
				slog.String("subject_id", subjectID), slog.Any("error", err))
			continue
		}
		row := backend.Row{
			"id":         uuid.NewString(),
			"subject_id": subjectID,
			"content":    candidate.Content,
			"embedding":  vector,
			"created_at": s.now().UTC().Format(time.RFC3339),
		}
		if messageID != "" {
			row["message_id"] = messageID
		}
		if len(candidate.StructuredData) > 0 {
			row["structured_data"] = candidate.StructuredData
		}
		if _, err := client.Insert(ctx, memoriesTable, row); err != nil {
			s.logger.Warn("candidate insert failed; skipping",
				slog.String("subject_id", subjectID), slog.Any("error", err))
			continue
		}
		stored++
	}
	return stored, nil
}

func (s *Service) extract(ctx context.Context, content string) ([]Candidate, error) {
	systemPrompt, userPrompt := extractionPrompts(content, s.now())
	raw, err := s.generator.Generate(ctx, systemPrompt, userPrompt, extractMaxTokens, 0)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Memories []Candidate `json:"memories"`
	}
	if err := json.Unmarshal([]byte(llm.RemoveCodeBlocks(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	return parsed.Memories, nil
}

// Retrieve searches the subject's memories for the query. Vector similarity
// first; on zero hits, a preference-keyword query falls back to a plain
// recency fetch, and failing that a location-keyword query falls back to a
// text match on those terms.
func (s *Service) Retrieve(ctx context.Context, client backend.Client, subjectID, query string, limit int) (RetrieveResult, error) {
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}

	memories := s.vectorSearch(ctx, client, subjectID, query, limit)
	if len(memories) == 0 {
		switch {
		case hasKeyword(query, preferenceKeywords):
			memories = s.recentMemories(ctx, client, subjectID, limit)
		case hasKeyword(query, locationKeywords):
			memories = s.keywordSearch(ctx, client, subjectID, query, limit)
		}
	}

	result := RetrieveResult{Memories: memories}
	result.SubjectName, result.SubjectInfo = s.resolveSubject(ctx, client, subjectID, memories)
	return result, nil
}

func (s *Service) vectorSearch(ctx context.Context, client backend.Client, subjectID, query string, limit int) []Memory {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed; relying on fallbacks", slog.Any("error", err))
		return nil
	}
	rows, err := client.RPC(ctx, matchMemoriesFn, map[string]any{
		"query_embedding": vector,
		"match_threshold": matchThreshold,
		"match_count":     limit,
		"p_subject_id":    subjectID,
	})
	if err != nil {
		s.logger.Warn("vector search failed; relying on fallbacks", slog.Any("error", err))
		return nil
	}
	return rowsToMemories(rows)
}

func (s *Service) recentMemories(ctx context.Context, client backend.Client, subjectID string, limit int) []Memory {
	rows, err := client.Select(ctx, memoriesTable,
		backend.Query{}.Eq("subject_id", subjectID).Order("created_at", true).Take(limit))
	if err != nil {
		s.logger.Warn("recency fallback failed", slog.Any("error", err))
		return nil
	}
	return rowsToMemories(rows)
}

// keywordSearch matches memory content against the location terms present in
// the query, merging results across terms up to the limit.
func (s *Service) keywordSearch(ctx context.Context, client backend.Client, subjectID, query string, limit int) []Memory {
	lowered := strings.ToLower(query)
	seen := map[string]bool{}
	var merged []Memory
	for _, term := range locationKeywords {
		if !strings.Contains(lowered, term) {
			continue
		}
		rows, err := client.Select(ctx, memoriesTable,
			backend.Query{}.
				Eq("subject_id", subjectID).
				Where("content", backend.OpILike, "%"+term+"%").
				Order("created_at", true).
				Take(limit))
		if err != nil {
			s.logger.Warn("keyword fallback failed", slog.String("term", term), slog.Any("error", err))
			continue
		}
		for _, m := range rowsToMemories(rows) {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
			if len(merged) >= limit {
				return merged
			}
		}
	}
	return merged
}

// resolveSubject finds a display name: name-like phrases or structured name
// fields in recent memories first, then the subject's profile record.
func (s *Service) resolveSubject(ctx context.Context, client backend.Client, subjectID string, retrieved []Memory) (string, string) {
	scan := retrieved
	if len(scan) == 0 {
		scan = s.recentMemories(ctx, client, subjectID, recentScanLimit)
	}
	for _, m := range scan {
		if name := nameFromContent(m.Content); name != "" {
			return name, ""
		}
		if name, ok := m.StructuredData["name"].(string); ok && name != "" {
			return name, ""
		}
	}

	rows, err := client.Select(ctx, contactsTable, backend.Query{}.Eq("id", subjectID).Take(1))
	if err != nil || len(rows) == 0 {
		return "", ""
	}
	name, _ := rows[0]["name"].(string)
	if name == "" {
		name, _ = rows[0]["full_name"].(string)
	}
	info, _ := rows[0]["notes"].(string)
	return name, info
}

// DeleteForMessage removes the memories tied to a message. Callers must run
// this before deleting the message row itself.
func (s *Service) DeleteForMessage(ctx context.Context, client backend.Client, messageID string) error {
	if err := client.Delete(ctx, memoriesTable, backend.Query{}.Eq("message_id", messageID)); err != nil {
		return fmt.Errorf("memory: delete for message %s: %w", messageID, err)
	}
	return nil
}

func nameFromContent(content string) string {
	for _, pattern := range []*regexp.Regexp{nameIsPattern, callMePattern} {
		if match := pattern.FindStringSubmatch(content); len(match) == 2 {
			return strings.TrimSpace(match[1])
		}
	}
	return ""
}

func hasKeyword(query string, keywords []string) bool {
	lowered := strings.ToLower(query)
	for _, keyword := range keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func rowsToMemories(rows []backend.Row) []Memory {
	memories := make([]Memory, 0, len(rows))
	for _, row := range rows {
		memories = append(memories, rowToMemory(row))
	}
	return memories
}

func rowToMemory(row backend.Row) Memory {
	m := Memory{
		ID:        rowString(row, "id"),
		SubjectID: rowString(row, "subject_id"),
		MessageID: rowString(row, "message_id"),
		Content:   rowString(row, "content"),
	}
	if similarity, ok := row["similarity"].(float64); ok {
		m.Similarity = similarity
	}
	switch data := row["structured_data"].(type) {
	case map[string]any:
		m.StructuredData = data
	case string:
		if data != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(data), &parsed); err == nil {
				m.StructuredData = parsed
			}
		}
	}
	if raw := rowString(row, "created_at"); raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			m.CreatedAt = at
		}
	}
	return m
}

func rowString(row backend.Row, key string) string {
	value, _ := row[key].(string)
	return value
}
