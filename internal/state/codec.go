package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/scout/internal/persist"
)

// ErrSchemaTooNew reports a state document written by a newer build.
var ErrSchemaTooNew = errors.New("state schema version newer than this build")

// Encode serializes the state with stable key order and 2-space indent.
// The schema version is always stamped before encoding.
func Encode(s *ResearchState) ([]byte, error) {
	s.SchemaVersion = CurrentSchemaVersion

	return persist.MarshalStable(s)
}

// Decode parses a state document of any supported schema version, applying
// additive migrations until the document reaches CurrentSchemaVersion.
// Unknown fields are tolerated and dropped.
func Decode(data []byte) (*ResearchState, error) {
	var doc map[string]any

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}

	migrated, migErr := Migrate(doc)
	if migErr != nil {
		return nil, migErr
	}

	raw, marshalErr := json.Marshal(migrated)
	if marshalErr != nil {
		return nil, fmt.Errorf("re-encode migrated state: %w", marshalErr)
	}

	var s ResearchState

	unmarshalErr := json.Unmarshal(raw, &s)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("decode migrated state: %w", unmarshalErr)
	}

	normalize(&s)

	return &s, nil
}

// Migrate applies migrations to a raw state document in place until it
// reaches CurrentSchemaVersion. Each migration is additive and bumps
// _schema_version by exactly one.
func Migrate(doc map[string]any) (map[string]any, error) {
	version := schemaVersion(doc)
	if version > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, version, CurrentSchemaVersion)
	}

	for version < CurrentSchemaVersion {
		migrations[version](doc)
		version++

		doc["_schema_version"] = version
	}

	doc["_schema_version"] = CurrentSchemaVersion

	return doc, nil
}

// migrations[v] upgrades a document from version v to v+1.
var migrations = map[int]func(map[string]any){
	// v0 -> v1: seen_urls did not exist before URL dedup landed.
	0: func(doc map[string]any) {
		if _, ok := doc["seen_urls"]; !ok {
			doc["seen_urls"] = []any{}
		}
	},
}

// schemaVersion reads _schema_version, defaulting to 0 for documents that
// predate versioning.
func schemaVersion(doc map[string]any) int {
	raw, ok := doc["_schema_version"]
	if !ok {
		return 0
	}

	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// normalize restores the non-nil empty collections New guarantees, so a
// decoded state serializes identically to a fresh one.
func normalize(s *ResearchState) {
	if s.Subtopics == nil {
		s.Subtopics = []Subtopic{}
	}

	if s.SearchResults == nil {
		s.SearchResults = []SearchResult{}
	}

	if s.ScrapedPages == nil {
		s.ScrapedPages = []ScrapedPage{}
	}

	if s.SubtopicSummaries == nil {
		s.SubtopicSummaries = []SubtopicSummary{}
	}

	if s.Errors == nil {
		s.Errors = []ErrorEntry{}
	}

	if s.SeenURLs == nil {
		s.SeenURLs = []string{}
	}

	if s.DegradationTier == "" {
		s.DegradationTier = TierFull
	}
}
