package procsession

import "strings"

// transcript is an append-only list of output chunks bounded by eviction:
// once the count exceeds max, only the newest retain chunks are kept.
type transcript struct {
	chunks []string
	max    int
	retain int
}

func newTranscript(max, retain int) *transcript {
	return &transcript{max: max, retain: retain}
}

func (t *transcript) append(chunk string) {
	t.chunks = append(t.chunks, chunk)
	if len(t.chunks) > t.max {
		kept := make([]string, t.retain)
		copy(kept, t.chunks[len(t.chunks)-t.retain:])
		t.chunks = kept
	}
}

func (t *transcript) len() int { return len(t.chunks) }

func (t *transcript) text() string { return strings.Join(t.chunks, "") }

func (t *transcript) reset() { t.chunks = nil }
