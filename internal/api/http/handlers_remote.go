package apihttp

import (
	"net/http"
	"strconv"
	"strings"

	"bitfinder/internal/domain"
)

type remoteListResponse struct {
	Torrents []domain.RemoteTorrent `json:"torrents"`
}

type remoteTorrentResponse struct {
	Torrent domain.RemoteTorrent `json:"torrent"`
}

type remoteDownloadRequest struct {
	Magnet string `json:"magnet"`
}

func (s *Server) requireRemote(w http.ResponseWriter) bool {
	if s.remote == nil {
		writeDomainError(w, domain.ErrNotConfigured)
		return false
	}
	return true
}

func (s *Server) handleRemoteTorrents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !s.requireRemote(w) {
		return
	}
	torrents, err := s.remote.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if torrents == nil {
		torrents = []domain.RemoteTorrent{}
	}
	writeJSON(w, http.StatusOK, remoteListResponse{Torrents: torrents})
}

func (s *Server) handleRemoteDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.requireRemote(w) {
		return
	}
	var body remoteDownloadRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	magnet := strings.TrimSpace(body.Magnet)
	if magnet == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnet is required")
		return
	}
	torrent, err := s.remote.Add(r.Context(), magnet)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remoteTorrentResponse{Torrent: torrent})
}

// handleRemoteTorrentByID dispatches /remote/torrents/{id}/{action}.
func (s *Server) handleRemoteTorrentByID(w http.ResponseWriter, r *http.Request) {
	parts := trimSegments(r.URL.Path, "/remote/torrents/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid torrent id")
		return
	}

	switch action := parts[1]; action {
	case "pause", "resume":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if !s.requireRemote(w) {
			return
		}
		if action == "pause" {
			err = s.remote.Pause(r.Context(), id)
		} else {
			err = s.remote.Resume(r.Context(), id)
		}
	case "remove", "delete":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		if !s.requireRemote(w) {
			return
		}
		err = s.remote.Remove(r.Context(), id, action == "delete")
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
