package indexer

import "strings"

// Splitter breaks document text into overlapping chunks. It prefers to cut on
// paragraph boundaries, then sentence boundaries, and falls back to a hard cut
// only when a single sentence exceeds the chunk size.
type Splitter struct {
	// ChunkSize is the maximum number of characters per chunk.
	ChunkSize int
	// Overlap is the number of characters carried over from the end of one
	// chunk into the start of the next.
	Overlap int
}

// NewSplitter constructs a Splitter, applying defaults for out-of-range values.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// Split divides text into chunks of at most ChunkSize characters. Every
// non-whitespace character of the input appears in at least one chunk, and no
// returned chunk is empty. Returns nil for blank input.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		tail := overlapTail(current.String(), s.Overlap)
		current.Reset()
		current.WriteString(tail)
	}

	for _, piece := range s.pieces(text) {
		if current.Len() > 0 && current.Len()+len(piece)+1 > s.ChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(piece)
	}
	if chunk := strings.TrimSpace(current.String()); chunk != "" {
		chunks = append(chunks, chunk)
	}

	return chunks
}

// pieces breaks text into units no longer than ChunkSize: paragraphs where
// they fit, sentences where paragraphs are too long, and hard slices where
// even a sentence exceeds the limit.
func (s *Splitter) pieces(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= s.ChunkSize {
			out = append(out, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if len(sent) <= s.ChunkSize {
				out = append(out, sent)
				continue
			}
			for start := 0; start < len(sent); start += s.ChunkSize {
				end := start + s.ChunkSize
				if end > len(sent) {
					end = len(sent)
				}
				out = append(out, sent[start:end])
			}
		}
	}
	return out
}

// splitSentences splits a paragraph on sentence-ending punctuation followed by
// whitespace. The terminator stays attached to its sentence.
func splitSentences(para string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(para); i++ {
		switch para[i] {
		case '.', '!', '?':
			if i+1 == len(para) || para[i+1] == ' ' || para[i+1] == '\n' {
				sent := strings.TrimSpace(para[start : i+1])
				if sent != "" {
					sentences = append(sentences, sent)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(para[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// overlapTail returns the last n characters of text, snapped forward to the
// next word boundary so overlapping chunks do not begin mid-word.
func overlapTail(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || len(text) <= n {
		return ""
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}
