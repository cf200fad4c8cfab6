package apihttp

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"bitfinder/internal/domain"
)

func streamFixture(size int) *fakeSessions {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &fakeSessions{
		data: data,
		file: domain.FileInfo{Index: 1, Name: "Movie.2020.1080p.mkv", Path: "Movie/Movie.2020.1080p.mkv", Size: int64(size)},
	}
}

func TestStreamFullBody(t *testing.T) {
	sessions := streamFixture(1000)
	s := newTestServer(t, sessions)

	rec := do(t, s, http.MethodGet, "/stream/"+testHash, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Fatalf("Content-Length = %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/x-matroska" {
		t.Fatalf("Content-Type = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), sessions.data) {
		t.Fatal("body does not match file contents")
	}
	if sessions.openIndex != nil {
		t.Fatalf("expected default file selection, got index %d", *sessions.openIndex)
	}
	r := sessions.reader
	if !r.ctxSet || r.readahead != streamReadahead || r.closeCalled != 1 {
		t.Fatalf("reader not prepared: ctx=%v readahead=%d closed=%d", r.ctxSet, r.readahead, r.closeCalled)
	}
}

func TestStreamRanges(t *testing.T) {
	tests := []struct {
		name         string
		header       string
		start, end   int
		contentRange string
	}{
		{"bounded", "bytes=100-199", 100, 199, "bytes 100-199/1000"},
		{"open ended", "bytes=900-", 900, 999, "bytes 900-999/1000"},
		{"suffix", "bytes=-10", 990, 999, "bytes 990-999/1000"},
		{"end clamped", "bytes=995-5000", 995, 999, "bytes 995-999/1000"},
		{"single byte", "bytes=0-0", 0, 0, "bytes 0-0/1000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sessions := streamFixture(1000)
			s := newTestServer(t, sessions)

			rec := do(t, s, http.MethodGet, "/stream/"+testHash+"?file=1", nil, "Range", tc.header)
			if rec.Code != http.StatusPartialContent {
				t.Fatalf("expected 206, got %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Range"); got != tc.contentRange {
				t.Fatalf("Content-Range = %q, want %q", got, tc.contentRange)
			}
			wantLen := tc.end - tc.start + 1
			if got := rec.Header().Get("Content-Length"); got != strconv.Itoa(wantLen) {
				t.Fatalf("Content-Length = %q, want %d", got, wantLen)
			}
			if !bytes.Equal(rec.Body.Bytes(), sessions.data[tc.start:tc.end+1]) {
				t.Fatal("body does not match requested range")
			}
			if sessions.openIndex == nil || *sessions.openIndex != 1 {
				t.Fatal("explicit file index not forwarded")
			}
		})
	}
}

func TestStreamUnsatisfiableRange(t *testing.T) {
	for _, header := range []string{"bytes=1000-", "bytes=5000-6000", "items=0-1", "bytes=20-10", "bytes=0-1,5-6"} {
		t.Run(header, func(t *testing.T) {
			s := newTestServer(t, streamFixture(1000))
			rec := do(t, s, http.MethodGet, "/stream/"+testHash, nil, "Range", header)
			if rec.Code != http.StatusRequestedRangeNotSatisfiable {
				t.Fatalf("expected 416, got %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Range"); got != "bytes */1000" {
				t.Fatalf("Content-Range = %q", got)
			}
		})
	}
}

func TestStreamHead(t *testing.T) {
	s := newTestServer(t, streamFixture(1000))
	rec := do(t, s, http.MethodHead, "/stream/"+testHash, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Fatalf("Content-Length = %q", got)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %d bytes", rec.Body.Len())
	}
}

func TestStreamNotFound(t *testing.T) {
	sessions := streamFixture(10)
	sessions.openErr = fmt.Errorf("%w: file 9", domain.ErrNotFound)
	s := newTestServer(t, sessions)

	rec := do(t, s, http.MethodGet, "/stream/"+testHash+"?file=9", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamBadFileIndex(t *testing.T) {
	s := newTestServer(t, streamFixture(10))
	for _, target := range []string{"/stream/" + testHash + "?file=x", "/stream/" + testHash + "?file=-1"} {
		rec := do(t, s, http.MethodGet, target, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestStreamRejectsPost(t *testing.T) {
	s := newTestServer(t, streamFixture(10))
	rec := do(t, s, http.MethodPost, "/stream/"+testHash, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
