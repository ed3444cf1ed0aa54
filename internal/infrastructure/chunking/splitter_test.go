package chunking

import (
	"strings"
	"testing"
)

func TestSplitEmptyText(t *testing.T) {
	if got := NewChildSplitter().Split("   \n "); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	got := NewChildSplitter().Split("one short paragraph")
	if len(got) != 1 || got[0] != "one short paragraph" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitRespectsChunkSize(t *testing.T) {
	text := strings.Repeat("word word word. ", 200)
	splitter := NewSplitter(100, 10)

	chunks := splitter.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := len([]rune(chunk)); n > 100 {
			t.Fatalf("chunk %d has %d runes, limit 100", i, n)
		}
	}
}

func TestSplitBreaksAtWordBoundaries(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 50)
	for _, chunk := range NewSplitter(100, 10).Split(text) {
		for _, word := range strings.Fields(chunk) {
			switch word {
			case "alpha", "beta", "gamma", "delta":
			default:
				t.Fatalf("word split mid-token: %q", word)
			}
		}
	}
}

func TestSplitOverlapStartsOnWordBoundary(t *testing.T) {
	words := make([]string, 120)
	vocabulary := make(map[string]bool, len(words))
	for i := range words {
		words[i] = "token" + strings.Repeat("x", i%7)
		vocabulary[words[i]] = true
	}
	text := strings.Join(words, " ")

	chunks := NewSplitter(100, 30).Split(text)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		fields := strings.Fields(chunk)
		if len(fields) == 0 {
			t.Fatalf("chunk %d is empty", i)
		}
		if !vocabulary[fields[0]] {
			t.Fatalf("chunk %d starts mid-word: %q (chunk prefix %q)", i, fields[0], chunk[:min(20, len(chunk))])
		}
		if !vocabulary[fields[len(fields)-1]] {
			t.Fatalf("chunk %d ends mid-word: %q", i, fields[len(fields)-1])
		}
	}
}

func TestSplitCoversAllText(t *testing.T) {
	text := strings.Repeat("abcdefghij ", 100)
	chunks := NewSplitter(80, 8).Split(text)

	joined := strings.Join(chunks, " ")
	if !strings.Contains(joined, "abcdefghij") {
		t.Fatal("content lost in split")
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(strings.TrimSpace(text), last) {
		t.Fatalf("tail missing: %q", last)
	}
}

func TestParentSplitterWiderThanChild(t *testing.T) {
	text := strings.Repeat("sentence with several words in it. ", 300)
	parents := NewParentSplitter().Split(text)
	children := NewChildSplitter().Split(text)
	if len(parents) >= len(children) {
		t.Fatalf("parents=%d children=%d; parent chunks must be coarser", len(parents), len(children))
	}
}
