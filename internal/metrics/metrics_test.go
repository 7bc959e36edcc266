package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.PostCreated()
	m.VoteToggled()
	m.VoteToggled()
	m.CommentCreated()
	m.ObserveRequest(http.MethodPost, http.StatusOK, 12*time.Millisecond)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, want := range []string{
		"campushub_posts_created_total 1",
		"campushub_votes_toggled_total 2",
		"campushub_comments_created_total 1",
		`campushub_http_requests_total{method="POST",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMultipleInstancesDoNotCollide(t *testing.T) {
	// Private registries: constructing twice must not panic.
	_ = New()
	_ = New()
}
