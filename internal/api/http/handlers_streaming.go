package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"bitfinder/internal/metrics"
)

// handleStream serves one file of a local session with single-range support.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	parts := trimSegments(r.URL.Path, "/stream/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	hash := parts[0]

	var index *int
	if raw := strings.TrimSpace(r.URL.Query().Get("file")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid file index")
			return
		}
		index = &n
	}

	reader, file, err := s.sessions.OpenFile(r.Context(), hash, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer reader.Close()
	// Reads block until the pieces arrive, so the body is never cut short
	// by missing data; the request context ends them on disconnect.
	reader.SetContext(r.Context())
	reader.SetReadahead(streamReadahead)

	size := file.Size
	w.Header().Set("Content-Type", contentTypeFor(file.Name))
	w.Header().Set("Accept-Ranges", "bytes")
	// Keep-alive would hold the reader open after the player stops.
	w.Header().Set("Connection", "close")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		s.copyStream(w, reader, size, hash, file.Index)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", err.Error())
		return
	}
	if _, err := reader.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
		return
	}
	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	s.copyStream(w, reader, length, hash, file.Index)
}

func (s *Server) copyStream(w io.Writer, reader io.Reader, length int64, hash string, fileIndex int) {
	n, err := io.CopyN(w, reader, length)
	metrics.StreamBytesTotal.Add(float64(n))
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("stream copy interrupted",
			slog.String("infoHash", hash),
			slog.Int("fileIndex", fileIndex),
			slog.Int64("written", n),
			slog.String("error", err.Error()),
		)
	}
}
