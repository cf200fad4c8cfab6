package search

import (
	"cmp"
	"slices"
	"strings"

	"bitfinder/internal/domain"
	"bitfinder/internal/providers/common"
	"bitfinder/internal/services/search/parser"
)

const (
	pirateBayDescriptionURL = "https://thepiratebay.org/description.php?id="
	ytsCapValue             = 100
)

// Normalize drops placeholder rows, attaches parsed metadata and category,
// flags capped YTS counters and orders the result by seeds descending.
// Rows without a seed count sort after every counted row.
func Normalize(items []domain.SearchResult) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(items))
	for _, item := range items {
		if !keep(item) {
			continue
		}
		item.Title = strings.TrimSpace(item.Title)
		item.Metadata = parser.Parse(item.Title)
		item.Category = parser.Classify(item.Title)
		item.Metadata.IsYTSCapped = isYTSCapped(item)
		if item.Size == "" && item.SizeBytes > 0 {
			item.Size = common.FormatSize(item.SizeBytes)
		}
		if item.Link == "" && item.Raw.Kind == domain.RawPirateBay && item.Raw.PirateBay != nil {
			item.Link = pirateBayDescriptionURL + item.Raw.PirateBay.ID
		}
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b domain.SearchResult) int {
		return cmp.Compare(seedRank(b), seedRank(a))
	})
	return out
}

func keep(item domain.SearchResult) bool {
	title := strings.TrimSpace(item.Title)
	if title == "" || strings.EqualFold(title, "unknown") {
		return false
	}
	if item.SizeBytes == 0 && (item.Size == "" || common.IsZeroSize(item.Size)) {
		return false
	}
	if item.Raw.Validate() != nil {
		return false
	}
	if item.Raw.Kind == domain.RawPirateBay && strings.TrimLeft(item.Raw.PirateBay.ID, "0") == "" {
		return false
	}
	return true
}

func isYTSCapped(item domain.SearchResult) bool {
	if !strings.EqualFold(item.Provider, "yts") {
		return false
	}
	return (item.Seeds != nil && *item.Seeds == ytsCapValue) || (item.Peers != nil && *item.Peers == ytsCapValue)
}

func seedRank(item domain.SearchResult) int {
	if item.Seeds == nil {
		return -1
	}
	return *item.Seeds
}
