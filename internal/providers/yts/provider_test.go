package yts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitfinder/internal/domain"
)

const sampleResponse = `{
  "status": "ok",
  "status_message": "Query was successful",
  "data": {
    "movie_count": 1,
    "movies": [{
      "id": 3175,
      "url": "https://yts.mx/movies/dune-2021",
      "title": "Dune",
      "year": 2021,
      "torrents": [
        {"hash":"AAAA000000000000000000000000000000000000","quality":"1080p","type":"bluray","seeds":100,"peers":12,"size":"2.3 GB","size_bytes":2469606195,"date_uploaded":"2021-10-22 10:02:11"},
        {"hash":"BBBB000000000000000000000000000000000000","quality":"2160p","type":"web","seeds":55,"peers":100,"size":"5.1 GB","size_bytes":5476083302,"date_uploaded":"2021-10-22 11:00:00"}
      ]
    }]
  }
}`

func TestSearchOneResultPerTorrent(t *testing.T) {
	var gotTerm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTerm = r.URL.Query().Get("query_term")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	p := NewProvider(Config{Endpoint: srv.URL, Client: srv.Client()})
	results, err := p.Search(context.Background(), domain.SearchRequest{Query: "dune"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotTerm != "dune" {
		t.Errorf("query_term = %q", gotTerm)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "Dune (2021) [1080p] [BluRay] [YTS.MX]" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[1].Title != "Dune (2021) [2160p] [WEBRip] [YTS.MX]" {
		t.Errorf("title = %q", results[1].Title)
	}
	if *results[0].Seeds != 100 || results[0].Provider != Name {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[0].Time != "2021-10-22" {
		t.Errorf("time = %q", results[0].Time)
	}
	if results[0].Raw.YTS.MovieID != 3175 || results[0].Raw.YTS.Hash != "aaaa000000000000000000000000000000000000" {
		t.Errorf("raw = %+v", results[0].Raw.YTS)
	}
}

func TestSearchSkipsTV(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := NewProvider(Config{Endpoint: srv.URL, Client: srv.Client()})
	results, err := p.Search(context.Background(), domain.SearchRequest{Query: "x", Category: "tv"})
	if err != nil || len(results) != 0 {
		t.Fatalf("results=%v err=%v", results, err)
	}
	if called {
		t.Error("tv search should not hit YTS")
	}
}

func TestSearchStatusNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","status_message":"bad query"}`))
	}))
	defer srv.Close()

	p := NewProvider(Config{Endpoint: srv.URL, Client: srv.Client()})
	if _, err := p.Search(context.Background(), domain.SearchRequest{Query: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMagnet(t *testing.T) {
	p := NewProvider(Config{Trackers: []string{"udp://t:1"}})
	magnet, err := p.Magnet(domain.RawPayload{Kind: domain.RawYTS, YTS: &domain.YTSPayload{Hash: "aaaa", Title: "Dune", Quality: "1080p"}})
	if err != nil {
		t.Fatalf("Magnet: %v", err)
	}
	if magnet != "magnet:?xt=urn:btih:aaaa&dn=Dune+1080p&tr=udp%3A%2F%2Ft%3A1" {
		t.Errorf("magnet = %q", magnet)
	}
}
