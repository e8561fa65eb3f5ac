package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/envirosense/envirosense-core/internal/sensor"
)

// handleListReadings returns a page of the caller's stored readings,
// newest first.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	limit, err := parseQueryInt(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	offset, err := parseQueryInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeBadRequest(w, "invalid offset")
		return
	}

	readings, err := s.readings.List(r.Context(), identity.UserID, limit, offset)
	if err != nil {
		writeInternalError(w, "failed to load readings")
		return
	}

	total, err := s.readings.CountForUser(r.Context(), identity.UserID)
	if err != nil {
		writeInternalError(w, "failed to count readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   readings,
		"count":  len(readings),
		"total":  total,
		"offset": offset,
	})
}

// handleLatestReading returns the caller's most recent reading.
func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r.Context())
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	reading, err := s.readings.Latest(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, sensor.ErrNoReadings) {
			writeNotFound(w, "no readings recorded")
			return
		}
		writeInternalError(w, "failed to load reading")
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// parseQueryInt parses a non-negative integer query parameter, returning
// the default when the parameter is absent.
func parseQueryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative: %d", v)
	}
	return v, nil
}
