package domain

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryMovie Category = "Movie"
	CategoryTV    Category = "TV"
	CategoryOther Category = "Other"
)

// Metadata holds attributes parsed from a release title. Absent attributes
// are left empty.
type Metadata struct {
	Resolution    string   `json:"resolution,omitempty"`
	VideoCodec    string   `json:"videoCodec,omitempty"`
	AudioCodec    string   `json:"audioCodec,omitempty"`
	AudioChannels string   `json:"audioChannels,omitempty"`
	Source        string   `json:"source,omitempty"`
	HDR           string   `json:"hdr,omitempty"`
	BitDepth      string   `json:"bitDepth,omitempty"`
	ReleaseGroup  string   `json:"releaseGroup,omitempty"`
	Season        string   `json:"season,omitempty"`
	Episode       string   `json:"episode,omitempty"`
	Complete      bool     `json:"complete,omitempty"`
	Languages     []string `json:"languages,omitempty"`
	Subtitles     []string `json:"subtitles,omitempty"`
	IsYTSCapped   bool     `json:"isYTSCapped"`
}

type SearchRequest struct {
	Query     string
	Category  string
	Limit     int
	Providers []string
	NoCache   bool
}

type SearchResult struct {
	Title     string     `json:"title"`
	Seeds     *int       `json:"seeds"`
	Peers     *int       `json:"peers"`
	Size      string     `json:"size"`
	SizeBytes int64      `json:"sizeBytes"`
	Provider  string     `json:"provider"`
	Link      string     `json:"link,omitempty"`
	Time      string     `json:"time,omitempty"`
	Category  Category   `json:"category"`
	Metadata  Metadata   `json:"metadata"`
	Raw       RawPayload `json:"raw"`
}

// RawKind names the provider adapter that produced a RawPayload.
type RawKind string

const (
	RawPirateBay RawKind = "piratebay"
	RawYTS       RawKind = "yts"
	RawLeetX     RawKind = "leetx"
)

// RawPayload is the provider-specific part of a search result. Exactly one
// variant matching Kind is set; it carries only what magnet resolution needs.
type RawPayload struct {
	Kind      RawKind           `json:"kind"`
	PirateBay *PirateBayPayload `json:"piratebay,omitempty"`
	YTS       *YTSPayload       `json:"yts,omitempty"`
	LeetX     *LeetXPayload     `json:"leetx,omitempty"`
}

type PirateBayPayload struct {
	ID       string `json:"id"`
	InfoHash string `json:"infoHash"`
	Name     string `json:"name"`
}

type YTSPayload struct {
	MovieID int    `json:"movieId"`
	Hash    string `json:"hash"`
	Title   string `json:"title"`
	Quality string `json:"quality"`
}

type LeetXPayload struct {
	DetailURL string `json:"detailUrl"`
}

var ErrInvalidPayload = errors.New("invalid raw payload")

// Validate checks that exactly the variant named by Kind is present.
func (p RawPayload) Validate() error {
	set := 0
	for _, present := range []bool{p.PirateBay != nil, p.YTS != nil, p.LeetX != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d variants set", ErrInvalidPayload, set)
	}
	switch p.Kind {
	case RawPirateBay:
		if p.PirateBay == nil {
			return fmt.Errorf("%w: missing piratebay variant", ErrInvalidPayload)
		}
	case RawYTS:
		if p.YTS == nil {
			return fmt.Errorf("%w: missing yts variant", ErrInvalidPayload)
		}
	case RawLeetX:
		if p.LeetX == nil {
			return fmt.Errorf("%w: missing leetx variant", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, p.Kind)
	}
	return nil
}
