package chunking

import "strings"

// Splitter implements ports.Chunker as a sliding rune window with overlap.
// Window ends are nudged back to the last whitespace and the next window's
// start is advanced past any partial leading token, so words stay whole on
// both edges. Two instances cover both granularities: a wide one for parent
// chunks and a narrow one for the precision-indexed children.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewParentSplitter() *Splitter { return NewSplitter(2000, 200) }
func NewChildSplitter() *Splitter  { return NewSplitter(400, 40) }

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 400
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakAtSpace(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
		start = nextStart(runes, start, end, s.Overlap)
	}
	return out
}

// nextStart rewinds the adjusted end by the overlap, then advances to the
// nearest word start so the overlap region never opens mid-token. Falls back
// to end when the overlap would stall the window or holds no word boundary.
func nextStart(runes []rune, start, end, overlap int) int {
	next := end - overlap
	if next <= start {
		return end
	}
	for next < end && !isSpace(runes[next-1]) {
		next++
	}
	return next
}

// breakAtSpace walks back from end to the nearest whitespace, bounded so a
// long unbroken token still splits rather than stalling the window.
func breakAtSpace(runes []rune, start, end int) int {
	const lookback = 48
	limit := end - lookback
	if limit < start+1 {
		limit = start + 1
	}
	for i := end; i > limit; i-- {
		if isSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
