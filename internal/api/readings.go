package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/farmra-core/internal/telemetry"
)

// handleIngestReading applies one sensor reading to the device in the
// path. The body's deviceId may be omitted; when present it must match.
func (s *Server) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := decodeReading(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if reading.DeviceID == "" {
		reading.DeviceID = id
	}
	if reading.DeviceID != id {
		writeBadRequest(w, "deviceId does not match the path")
		return
	}

	dev, err := s.ingestor.Ingest(r.Context(), reading)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// decodeReading reads a strict JSON reading from the request body.
func decodeReading(r *http.Request) (telemetry.Reading, error) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return telemetry.Reading{}, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return telemetry.Reading{}, fmt.Errorf("reading request body: %w", err)
	}
	return telemetry.DecodeReading(payload)
}
