package apihttp

import (
	"log/slog"
	"net/http"
	"strings"

	"bitfinder/internal/domain"
)

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

type magnetResponse struct {
	Magnet string `json:"magnet"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "search is not configured")
		return
	}

	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	limit, err := parseOptionalIntQuery(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	noCache, err := parseBoolQuery(q.Get("nocache"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid nocache")
		return
	}

	results, err := s.search.Search(r.Context(), domain.SearchRequest{
		Query:     name,
		Category:  strings.TrimSpace(q.Get("category")),
		Limit:     limit,
		Providers: parseCommaSeparated(q.Get("providers")),
		NoCache:   noCache,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// handleMagnet resolves a search result's raw payload into a magnet URI.
func (s *Server) handleMagnet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "search is not configured")
		return
	}
	var raw domain.RawPayload
	if err := decodeJSONBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	magnet, err := s.search.Magnet(r.Context(), raw)
	if err != nil {
		s.logger.Warn("magnet resolution failed",
			slog.String("kind", string(raw.Kind)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, magnetResponse{Magnet: magnet})
}
