package common

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// NormalizeInfoHash
// ---------------------------------------------------------------------------

func TestNormalizeInfoHash(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"uppercase hex", "ABCDEF1234567890", "abcdef1234567890"},
		{"with urn:btih: prefix", "urn:btih:abcdef1234567890", "abcdef1234567890"},
		{"uppercase prefix", "URN:BTIH:ABCDEF1234567890", "abcdef1234567890"},
		{"whitespace only", "   ", ""},
		{"urn:btih: only", "urn:btih:", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeInfoHash(tc.input); got != tc.want {
				t.Errorf("NormalizeInfoHash(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// BuildMagnet
// ---------------------------------------------------------------------------

func TestBuildMagnet(t *testing.T) {
	magnet := BuildMagnet("ABCDEF1234567890", "Test Torrent", []string{"udp://a:1", " ", "udp://b:2"})
	if !strings.HasPrefix(magnet, "magnet:?xt=urn:btih:abcdef1234567890") {
		t.Fatalf("unexpected magnet: %s", magnet)
	}
	if !strings.Contains(magnet, "dn=Test+Torrent") {
		t.Fatalf("expected encoded name in magnet: %s", magnet)
	}
	if n := strings.Count(magnet, "&tr="); n != 2 {
		t.Fatalf("expected 2 tracker params, got %d in %s", n, magnet)
	}
}

func TestBuildMagnetEmptyHash(t *testing.T) {
	if got := BuildMagnet("", "name", nil); got != "" {
		t.Fatalf("expected empty magnet, got %q", got)
	}
}
