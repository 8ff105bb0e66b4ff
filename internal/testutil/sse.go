// Package testutil provides shared testing utilities: a data-line stream
// parser, a scripted completion provider, and a PostgreSQL container
// harness.
package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// ParseDataLines parses a "data: " event stream body into its payloads,
// in order. The chat stream uses data-only events: each event is a
// single "data: <payload>" line followed by a blank line.
func ParseDataLines(t *testing.T, body string) []string {
	t.Helper()

	var payloads []string
	scanner := bufio.NewScanner(strings.NewReader(body))

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			// Event separator.
		case strings.HasPrefix(line, "data: "):
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, ":"):
			// Comment line, ignored per the SSE spec.
		default:
			t.Fatalf("unexpected stream line: %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning stream body: %v", err)
	}

	return payloads
}
