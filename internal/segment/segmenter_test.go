package segment

import (
	"context"
	"strings"
	"testing"

	"github.com/rfalcao/conceptminer/internal/domain"
)

func drain(t *testing.T, source Source) []domain.Segment {
	t.Helper()
	segments := []domain.Segment{}
	for {
		segment, ok, err := source.Next(context.Background())
		if err != nil {
			t.Fatalf("source failed: %v", err)
		}
		if !ok {
			return segments
		}
		segments = append(segments, segment)
	}
}

func TestSegmentSplitsOnBlankLines(t *testing.T) {
	segmenter := NewTextSegmenter(TextSegmenterConfig{})
	source, err := segmenter.Segment(context.Background(), "first paragraph here\n\nsecond paragraph here\n\n\n\n")
	if err != nil {
		t.Fatalf("segment failed: %v", err)
	}

	segments := drain(t, source)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].TokenLength != 3 {
		t.Fatalf("expected token length 3, got %d", segments[0].TokenLength)
	}
}

func TestSegmentSplitsLongParagraphs(t *testing.T) {
	segmenter := NewTextSegmenter(TextSegmenterConfig{MaxTokens: 10})
	longText := strings.Repeat("word ", 25)

	source, err := segmenter.Segment(context.Background(), longText)
	if err != nil {
		t.Fatalf("segment failed: %v", err)
	}

	segments := drain(t, source)
	if len(segments) != 3 {
		t.Fatalf("expected 3 chunks of a 25-word paragraph, got %d", len(segments))
	}
	for i, segment := range segments[:2] {
		if segment.TokenLength != 10 {
			t.Fatalf("chunk %d: expected 10 tokens, got %d", i, segment.TokenLength)
		}
	}
	if segments[2].TokenLength != 5 {
		t.Fatalf("expected 5 tokens in the tail chunk, got %d", segments[2].TokenLength)
	}
}

func TestEstimateEntitiesSkipsSentenceStarts(t *testing.T) {
	// "The" opens the sentence, "Raft Consensus" and "Paxos" are entities.
	count := estimateEntities("The cluster runs Raft Consensus alongside classic Paxos for votes.")
	if count != 2 {
		t.Fatalf("expected 2 entity runs, got %d", count)
	}

	if estimateEntities("nothing capitalized in here at all") != 0 {
		t.Fatalf("expected 0 entities for lowercase text")
	}
}

func TestSliceSourceIsNotRestartable(t *testing.T) {
	source := NewSliceSource([]domain.Segment{{Text: "only"}})

	if _, ok, _ := source.Next(context.Background()); !ok {
		t.Fatalf("expected first Next to yield the segment")
	}
	if _, ok, _ := source.Next(context.Background()); ok {
		t.Fatalf("expected exhausted source to stay exhausted")
	}
	if _, ok, _ := source.Next(context.Background()); ok {
		t.Fatalf("expected exhausted source to stay exhausted on repeat")
	}
}

func TestSliceSourceHonorsContext(t *testing.T) {
	source := NewSliceSource([]domain.Segment{{Text: "pending"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := source.Next(ctx); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}
