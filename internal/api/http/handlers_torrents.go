package apihttp

import (
	"log/slog"
	"net/http"
	"strings"

	"bitfinder/internal/domain"
	"bitfinder/internal/services/session"
)

type downloadRequest struct {
	Magnet   string                  `json:"magnet"`
	Paused   bool                    `json:"paused,omitempty"`
	Metadata *domain.SessionMetadata `json:"metadata,omitempty"`
}

type torrentResponse struct {
	Torrent domain.TorrentSession `json:"torrent"`
}

type torrentListResponse struct {
	Torrents []domain.TorrentSession `json:"torrents"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var body downloadRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	magnet := strings.TrimSpace(body.Magnet)
	if magnet == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnet is required")
		return
	}
	if body.Metadata != nil && body.Metadata.IsZero() {
		body.Metadata = nil
	}

	torrent, err := s.sessions.Add(r.Context(), magnet, session.AddOptions{
		Paused:   body.Paused,
		Metadata: body.Metadata,
	})
	if err != nil {
		s.logger.Warn("download failed",
			slog.String("magnet", clip(magnet, 120)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, torrentResponse{Torrent: torrent})
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	torrents := s.sessions.List()
	if torrents == nil {
		torrents = []domain.TorrentSession{}
	}
	writeJSON(w, http.StatusOK, torrentListResponse{Torrents: torrents})
}

// handleTorrentByHash dispatches /torrents/{hash}[/{action}] and
// /torrents/match.
func (s *Server) handleTorrentByHash(w http.ResponseWriter, r *http.Request) {
	parts := trimSegments(r.URL.Path, "/torrents/")
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	if len(parts) == 1 && parts[0] == "match" {
		s.handleMatch(w, r)
		return
	}

	hash := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		torrent, err := s.sessions.Get(hash)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, torrentResponse{Torrent: torrent})
		return
	}
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}

	switch action := parts[1]; action {
	case "pause", "resume":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var err error
		if action == "pause" {
			err = s.sessions.Pause(r.Context(), hash)
		} else {
			err = s.sessions.Resume(r.Context(), hash)
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	case "remove", "delete":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		removed, err := s.sessions.Remove(r.Context(), hash, action == "delete")
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !removed {
			writeError(w, http.StatusNotFound, "not_found", "torrent not found")
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
	}
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var candidate domain.SessionMetadata
	if err := decodeJSONBody(r, &candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(candidate.Title) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	torrent, ok := s.sessions.FindByMetadata(candidate)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no matching torrent")
		return
	}
	writeJSON(w, http.StatusOK, torrentResponse{Torrent: torrent})
}
