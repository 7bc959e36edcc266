package search

import (
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func rawHit(t *testing.T, value any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal hit field: %v", err)
	}
	return raw
}

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	hit := meili.Hit{
		"id":         rawHit(t, "post_1"),
		"title":      rawHit(t, "Best dining hall?"),
		"content":    rawHit(t, "west campus has the best omelets"),
		"authorName": rawHit(t, "avery"),
		"tags":       rawHit(t, []string{"food", "campus"}),
		"votes":      rawHit(t, 12),
		"_formatted": rawHit(t, map[string]string{
			"title":   "Best <mark>dining</mark> hall?",
			"content": "west campus has the best <mark>omelets</mark>",
		}),
	}

	r := hitToResult(hit)
	if r.ID != "post_1" || r.AuthorName != "avery" || r.Votes != 12 {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.Title != "Best <mark>dining</mark> hall?" {
		t.Fatalf("expected highlighted title, got %q", r.Title)
	}
	if len(r.Tags) != 2 || r.Tags[0] != "food" {
		t.Fatalf("unexpected tags %v", r.Tags)
	}
}

func TestHitToResultFallsBackToPlainFields(t *testing.T) {
	hit := meili.Hit{
		"id":      rawHit(t, "post_2"),
		"title":   rawHit(t, "Housing lottery"),
		"content": rawHit(t, "anyone else stuck in the waitlist?"),
	}

	r := hitToResult(hit)
	if r.Title != "Housing lottery" {
		t.Fatalf("expected plain title, got %q", r.Title)
	}
	if r.Snippet != "anyone else stuck in the waitlist?" {
		t.Fatalf("expected plain snippet, got %q", r.Snippet)
	}
}

func TestNonNilNormalizesEmptyResults(t *testing.T) {
	if got := nonNil(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}
