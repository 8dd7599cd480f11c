package delivery

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type capturedPost struct {
	path string
	body string
}

func TestSenderPostsReports(t *testing.T) {
	var mu sync.Mutex
	var posts []capturedPost

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		mu.Lock()
		posts = append(posts, capturedPost{path: r.URL.Path, body: string(body)})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, nil)
	s.Deliver(PathAuction, []byte(`{"auctionId":"a-1"}`))
	s.Deliver(PathWin, []byte(`{"auctionId":"a-1","adUnitCode":"slot-1"}`))
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}

	seen := map[string]string{}
	for _, p := range posts {
		seen[p.path] = p.body
	}
	if seen[PathAuction] != `{"auctionId":"a-1"}` {
		t.Errorf("unexpected auction body %q", seen[PathAuction])
	}
	if seen[PathWin] == "" {
		t.Error("expected win post")
	}

	stats := s.Stats()
	if stats.Delivered != 2 || stats.Failed != 0 || stats.Dropped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSenderCloseDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	count := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
	}))
	defer srv.Close()

	s := NewSender(srv.URL, nil)
	for i := 0; i < 10; i++ {
		s.Deliver(PathAuction, []byte(`{}`))
	}
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("expected 10 deliveries before close returned, got %d", count)
	}
}

func TestSenderErrorStatusCountsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, nil)
	s.Deliver(PathAuction, []byte(`{}`))
	s.Close()

	stats := s.Stats()
	if stats.Failed != 1 || stats.Delivered != 0 {
		t.Errorf("expected 1 failure, got %+v", stats)
	}
}

func TestSenderUnreachableEndpoint(t *testing.T) {
	// Connection refused: must not block or panic, just count failures.
	s := NewSender("http://127.0.0.1:1", nil)
	s.Deliver(PathWin, []byte(`{}`))
	s.Close()

	if stats := s.Stats(); stats.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", stats)
	}
}

func TestSenderDeliverAfterCloseDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := NewSender(srv.URL, nil)
	s.Close()
	s.Deliver(PathAuction, []byte(`{}`))

	if stats := s.Stats(); stats.Dropped != 1 {
		t.Errorf("expected drop after close, got %+v", stats)
	}
}

type recordingReports struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingReports) RecordReport(kind, status string) {
	r.mu.Lock()
	r.entries = append(r.entries, kind+"/"+status)
	r.mu.Unlock()
}

func TestSenderRecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rec := &recordingReports{}
	s := NewSender(srv.URL, rec)
	s.Deliver(PathAuction, []byte(`{}`))
	s.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 1 || rec.entries[0] != "auction/delivered" {
		t.Errorf("unexpected metric entries: %v", rec.entries)
	}
}
