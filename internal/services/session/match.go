package session

import (
	"strings"

	"bitfinder/internal/domain"
	"bitfinder/internal/services/search/parser"
)

// FindByMetadata maps a search result back to a running session. An exact
// title, provider and size match wins. Otherwise folded titles are compared
// by whole-word containment in either direction against the resolved name
// and the stored title; providers must agree when both are known, and the
// longest matching name wins. The fallback is a heuristic: a short title
// such as "Dune" also matches "Dune Part Two".
func (m *Manager) FindByMetadata(candidate domain.SessionMetadata) (domain.TorrentSession, bool) {
	views := m.views()

	for _, v := range views {
		md := v.metadata
		if md == nil {
			continue
		}
		if md.Title == candidate.Title && strings.EqualFold(md.Provider, candidate.Provider) && md.Size == candidate.Size {
			return m.project(v), true
		}
	}

	want := parser.FoldTitle(candidate.Title)
	if want == "" {
		return domain.TorrentSession{}, false
	}

	bestScore := 0
	var best *entryView
	for i := range views {
		v := &views[i]
		if !providersAgree(v.metadata, candidate.Provider) {
			continue
		}
		for _, name := range m.candidateNames(*v) {
			folded := parser.FoldTitle(name)
			if folded == "" || !containsWords(want, folded) && !containsWords(folded, want) {
				continue
			}
			if len(folded) > bestScore {
				bestScore = len(folded)
				best = v
			}
		}
	}
	if best == nil {
		return domain.TorrentSession{}, false
	}
	return m.project(*best), true
}

func (m *Manager) candidateNames(v entryView) []string {
	var names []string
	if v.torrent != nil && v.state != domain.StateFetchingMetadata {
		if name := v.torrent.Name(); name != "" {
			names = append(names, name)
		}
	}
	if v.metadata != nil && v.metadata.Title != "" {
		names = append(names, v.metadata.Title)
	}
	return names
}

func providersAgree(md *domain.SessionMetadata, provider string) bool {
	if md == nil || md.Provider == "" || strings.TrimSpace(provider) == "" {
		return true
	}
	return strings.EqualFold(md.Provider, strings.TrimSpace(provider))
}

// containsWords reports whether needle occurs in haystack on word
// boundaries. Both inputs are folded, space-separated titles.
func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
