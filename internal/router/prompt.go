package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/scout/internal/persist"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// BuildMessages assembles a message list in prompt-cache-friendly order:
// the static system text first, stable context turns in their original
// order, and the dynamic user content last. Empty segments are skipped.
func BuildMessages(system string, turns []Message, user string) []Message {
	msgs := make([]Message, 0, len(turns)+2)

	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}

	msgs = append(msgs, turns...)

	if user != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: user})
	}

	return msgs
}

// canonicalVersion is bumped whenever the canonical request format changes,
// invalidating older cache entries.
const canonicalVersion = 1

// CanonicalRequest serializes the cacheable parts of a request
// deterministically: fixed field order, compact encoding, sorted keys in
// any embedded JSON produced by persist.MarshalCanonical. The model is
// deliberately excluded so answers gathered at full service are reusable
// when the run degrades to cheaper chains.
func CanonicalRequest(req Request) ([]byte, error) {
	doc := struct {
		Version     int       `json:"v"`
		Intent      Intent    `json:"intent"`
		Messages    []Message `json:"messages"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float64   `json:"temperature"`
	}{
		Version:     canonicalVersion,
		Intent:      req.Intent,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	data, err := persist.MarshalCanonical(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize request: %w", err)
	}

	return data, nil
}

// CacheKey returns the SHA-256 hex digest of the canonical request.
func CacheKey(req Request) (string, error) {
	data, err := CanonicalRequest(req)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(data)

	return hex.EncodeToString(digest[:]), nil
}

// SchemaJSON serializes a JSON schema (or any structure embedded into a
// prompt) deterministically: compact, map keys sorted. Embedding schemas
// through this keeps prompts byte-stable across runs.
func SchemaJSON(v any) (string, error) {
	data, err := persist.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("serialize schema: %w", err)
	}

	return string(data), nil
}

// StripThinkBlocks removes <think>...</think> reasoning blocks that some
// models emit around structured output. An unclosed block is stripped to
// the end of the string.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}

		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]

			break
		}

		s = s[:start] + s[start+end+len("</think>"):]
	}

	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences and reasoning blocks from model
// output so it can be parsed as JSON.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}

		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}

	return strings.TrimSpace(s)
}
