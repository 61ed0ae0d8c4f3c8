package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// maxLineBytes bounds one event line; payloads carry messages and counters,
// never page content.
const maxLineBytes = 4 << 20

// ReadAll parses every event in the log at path, in file order. A truncated
// or malformed final line (crash mid-append) is dropped silently; malformed
// lines elsewhere are an error.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var lines [][]byte

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		lines = append(lines, slices.Clone(line))
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("scan event log: %w", scanErr)
	}

	events := make([]Event, 0, len(lines))

	for i, line := range lines {
		var ev Event

		unmarshalErr := json.Unmarshal(line, &ev)
		if unmarshalErr != nil {
			if i == len(lines)-1 {
				break
			}

			return nil, fmt.Errorf("event log line %d: %w", i+1, unmarshalErr)
		}

		events = append(events, ev)
	}

	return events, nil
}

// ProvenanceChain returns the chain of events leading to stepID, oldest
// first, by walking parent_id links. Cycles and dangling parents terminate
// the walk.
func ProvenanceChain(events []Event, stepID string) []Event {
	byID := make(map[string]Event, len(events))
	for _, ev := range events {
		byID[ev.StepID] = ev
	}

	var chain []Event

	visited := make(map[string]bool)
	current := stepID

	for current != "" && !visited[current] {
		visited[current] = true

		ev, ok := byID[current]
		if !ok {
			break
		}

		chain = append(chain, ev)
		current = ev.ParentID
	}

	slices.Reverse(chain)

	return chain
}
