package segment

import (
	"context"
	"strings"
	"unicode"

	"github.com/rfalcao/conceptminer/internal/domain"
)

// Source is a lazy, finite, non-restartable sequence of segments.
type Source interface {
	// Next returns the next segment; ok is false once the sequence is
	// exhausted. A consumed source cannot be restarted.
	Next(ctx context.Context) (domain.Segment, bool, error)
}

// Segmenter turns raw document text into a segment source. The real
// parsing/NER pass is an external collaborator; TextSegmenter is the
// in-process default used when none is wired.
type Segmenter interface {
	Segment(ctx context.Context, text string) (Source, error)
}

type sliceSource struct {
	segments []domain.Segment
	index    int
}

// NewSliceSource wraps precomputed segments, mainly for tests and for
// collaborators that deliver segments in one batch.
func NewSliceSource(segments []domain.Segment) Source {
	return &sliceSource{segments: segments}
}

func (s *sliceSource) Next(ctx context.Context) (domain.Segment, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Segment{}, false, err
	}
	if s.index >= len(s.segments) {
		return domain.Segment{}, false, nil
	}
	segment := s.segments[s.index]
	s.index++
	return segment, true, nil
}

type TextSegmenterConfig struct {
	// MaxTokens bounds a single segment; longer paragraphs are split.
	MaxTokens int
}

// TextSegmenter splits on blank lines and estimates entity density by
// counting capitalized token runs. It is intentionally naive: the hint
// only has to be good enough for tier routing.
type TextSegmenter struct {
	config TextSegmenterConfig
}

func NewTextSegmenter(config TextSegmenterConfig) *TextSegmenter {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 400
	}
	return &TextSegmenter{config: config}
}

func (s *TextSegmenter) Segment(_ context.Context, text string) (Source, error) {
	paragraphs := strings.Split(text, "\n\n")
	segments := make([]domain.Segment, 0, len(paragraphs))

	for _, paragraph := range paragraphs {
		trimmed := strings.TrimSpace(paragraph)
		if trimmed == "" {
			continue
		}
		for _, chunk := range splitByTokens(trimmed, s.config.MaxTokens) {
			segments = append(segments, domain.Segment{
				Text:        chunk,
				EntityCount: estimateEntities(chunk),
				TokenLength: len(strings.Fields(chunk)),
			})
		}
	}

	return NewSliceSource(segments), nil
}

func splitByTokens(text string, maxTokens int) []string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return []string{text}
	}

	chunks := make([]string, 0, len(words)/maxTokens+1)
	for start := 0; start < len(words); start += maxTokens {
		end := min(start+maxTokens, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

// estimateEntities counts runs of capitalized words, skipping sentence
// starts, as a cheap stand-in for a real NER pass.
func estimateEntities(text string) int {
	words := strings.Fields(text)
	count := 0
	inRun := false
	sentenceStart := true

	for _, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			sentenceStart = true
			inRun = false
			continue
		}

		capitalized := unicode.IsUpper([]rune(trimmed)[0])
		switch {
		case capitalized && inRun:
			// extend current entity
		case capitalized && !sentenceStart:
			count++
			inRun = true
		default:
			inRun = false
		}

		sentenceStart = strings.HasSuffix(word, ".") ||
			strings.HasSuffix(word, "!") ||
			strings.HasSuffix(word, "?")
	}
	return count
}
