package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"bitfinder/internal/domain"
	"bitfinder/internal/providers/common"
	"bitfinder/internal/services/daemon/transmission"
	"bitfinder/internal/services/search"
	"bitfinder/internal/services/session"
)

const maxJSONBody = 1 << 20

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorMapping struct {
	matches func(error) bool
	status  int
	code    string
}

func isAny(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

func isUpstreamFailure(err error) bool {
	var statusErr *common.StatusError
	return errors.Is(err, domain.ErrBackendUnavailable) ||
		errors.Is(err, transmission.ErrRPC) ||
		errors.As(err, &statusErr)
}

// errorMappings is checked in order; the first match decides the response.
var errorMappings = []errorMapping{
	{isAny(domain.ErrNotFound), http.StatusNotFound, "not_found"},
	{isAny(domain.ErrMetadataTimeout), http.StatusGatewayTimeout, "metadata_timeout"},
	{isAny(domain.ErrInvalidMagnet, domain.ErrInvalidPayload, search.ErrInvalidQuery, search.ErrUnknownKind),
		http.StatusBadRequest, "invalid_request"},
	{isAny(domain.ErrNotConfigured), http.StatusServiceUnavailable, "not_configured"},
	{isUpstreamFailure, http.StatusBadGateway, "backend_unavailable"},
	{isAny(session.ErrEngine), http.StatusInternalServerError, "engine_error"},
}

// writeDomainError maps an error from the session, search or daemon layers
// to its HTTP status. Unmapped errors are reported without detail.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if m.matches(err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// parseCommaSeparated splits a list parameter, dropping blanks and
// case-insensitive duplicates.
func parseCommaSeparated(value string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		item := strings.TrimSpace(part)
		if item == "" || seen[strings.ToLower(item)] {
			continue
		}
		seen[strings.ToLower(item)] = true
		out = append(out, item)
	}
	return out
}

func parseBoolQuery(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "false", "0":
		return false, nil
	case "true", "1":
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %q", value)
}

func parseOptionalIntQuery(value string, defaultValue int) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

var (
	errInvalidRange        = fmt.Errorf("%w: malformed", domain.ErrInvalidRange)
	errRangeNotSatisfiable = fmt.Errorf("%w: not satisfiable", domain.ErrInvalidRange)
)

// parseByteRange resolves a single-range Range header against size. The
// returned end is inclusive and clamped to the last byte.
func parseByteRange(value string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}
	unit, spec, ok := strings.Cut(strings.TrimSpace(value), "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") || strings.Contains(spec, ",") {
		return 0, 0, errInvalidRange
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, errInvalidRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		// bytes=-N asks for the final N bytes.
		n, ok := rangeBound(last)
		if !ok || n == 0 {
			return 0, 0, errInvalidRange
		}
		return max(size-n, 0), size - 1, nil
	}

	start, ok := rangeBound(first)
	if !ok {
		return 0, 0, errInvalidRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	if last == "" {
		return start, size - 1, nil
	}
	end, ok := rangeBound(last)
	if !ok || end < start {
		return 0, 0, errInvalidRange
	}
	return start, min(end, size-1), nil
}

func rangeBound(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil && n >= 0
}

var streamContentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".srt":  "application/x-subrip",
	".vtt":  "text/vtt",
}

func contentTypeFor(name string) string {
	if ct, ok := streamContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
