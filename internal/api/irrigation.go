package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-irrigation/internal/inventory"
	"github.com/nerrad567/gray-logic-irrigation/internal/irrigation"
)

// setCircuitStateRequest is the body of PUT /irrigation/circuits/{id}.
type setCircuitStateRequest struct {
	Active   *bool  `json:"active"`
	Duration string `json:"duration,omitempty"`
}

// registerControllerRequest is the body of POST /irrigation/controllers.
type registerControllerRequest struct {
	ID          string  `json:"_id"`
	Name        string  `json:"name"`
	MAC         *string `json:"mac,omitempty"`
	Address     string  `json:"address"`
	Hostname    *string `json:"hostname,omitempty"`
	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`
}

// populateOption reads ?populate=true.
func populateOption(r *http.Request) (irrigation.Options, error) {
	raw := r.URL.Query().Get("populate")
	if raw == "" {
		return irrigation.Options{}, nil
	}
	populate, err := strconv.ParseBool(raw)
	if err != nil {
		return irrigation.Options{}, fmt.Errorf("populate must be a boolean, got %q", raw)
	}
	return irrigation.Options{Populate: populate}, nil
}

// writeCollection writes a listing. An empty collection is not an error here.
func (s *Server) writeCollection(w http.ResponseWriter, r *http.Request, items any, err error) {
	var nr *irrigation.NoRecordsError
	switch {
	case errors.As(err, &nr):
		writeJSON(w, http.StatusOK, []any{})
	case err != nil:
		s.writeDomainError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, items)
	}
}

// handleListControllers returns every irrigation controller.
func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	opts, err := populateOption(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	controllers, err := s.inventory.ListControllers(r.Context(), opts)
	s.writeCollection(w, r, controllers, err)
}

// handleGetController returns one irrigation controller.
func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	opts, err := populateOption(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	controller, err := s.inventory.GetController(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controller)
}

// handleRegisterController adds an irrigation controller. Its circuits
// appear after the next reconcile pass.
func (s *Server) handleRegisterController(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil {
		writeUnavailable(w, "controller registration is not configured")
		return
	}

	var req registerControllerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, err := s.registrar.RegisterController(r.Context(), &inventory.Device{
		ID:          req.ID,
		Name:        req.Name,
		MAC:         req.MAC,
		Address:     req.Address,
		Hostname:    req.Hostname,
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if s.reconciler != nil {
		s.reconciler.Trigger()
	}
	writeJSON(w, http.StatusCreated, device)
}

// handleListCircuits returns every circuit.
func (s *Server) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	opts, err := populateOption(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	circuits, err := s.inventory.ListCircuits(r.Context(), opts)
	s.writeCollection(w, r, circuits, err)
}

// handleGetCircuit returns one circuit.
func (s *Server) handleGetCircuit(w http.ResponseWriter, r *http.Request) {
	opts, err := populateOption(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	circuit, err := s.inventory.GetCircuit(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, circuit)
}

// handleSetCircuitState starts or stops a circuit.
//
// Body: {"active": true, "duration": "15m"}; duration applies to starts only.
func (s *Server) handleSetCircuitState(w http.ResponseWriter, r *http.Request) {
	if s.circuits == nil {
		writeUnavailable(w, "circuit actuation is not configured")
		return
	}

	var req setCircuitStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, irrigation.CodeMissingField, "active is required")
		return
	}

	id := chi.URLParam(r, "id")
	var (
		circuit *inventory.Circuit
		err     error
	)
	if *req.Active {
		var opts irrigation.StartOptions
		if req.Duration != "" {
			d, parseErr := time.ParseDuration(req.Duration)
			if parseErr != nil || d < 0 {
				writeBadRequest(w, fmt.Sprintf("invalid duration %q", req.Duration))
				return
			}
			opts.Duration = d
		}
		circuit, err = s.circuits.Start(r.Context(), id, opts)
	} else {
		circuit, err = s.circuits.Stop(r.Context(), id)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, circuit)
}

// handleSetTimetable replaces a circuit's weekly timetable.
//
// Body: {"1": [["06:00","06:20"]], "4": [["19:00","19:15"]]}
func (s *Server) handleSetTimetable(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeUnavailable(w, "scheduling is not configured")
		return
	}

	var timetable inventory.Timetable
	if err := json.NewDecoder(r.Body).Decode(&timetable); err != nil {
		writeBadRequest(w, "invalid timetable body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.scheduler.ReplaceSchedule(r.Context(), id, timetable); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	circuit, err := s.inventory.GetCircuit(r.Context(), id, irrigation.Options{})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, circuit)
}

// handleClearTimetable cancels a circuit's scheduled jobs.
func (s *Server) handleClearTimetable(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeUnavailable(w, "scheduling is not configured")
		return
	}
	if err := s.scheduler.ClearSchedule(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReading returns the Reading of one UTC day (YYYY-MM-DD).
func (s *Server) handleGetReading(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := time.Parse(inventory.DayLayout, day); err != nil {
		writeBadRequest(w, fmt.Sprintf("day must be %s, got %q", inventory.DayLayout, day))
		return
	}

	reading, err := s.inventory.GetReading(r.Context(), day)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleReconcile queues a reconcile pass and returns immediately.
func (s *Server) handleReconcile(w http.ResponseWriter, _ *http.Request) {
	if s.reconciler == nil {
		writeUnavailable(w, "reconciler is not configured")
		return
	}
	queued := s.reconciler.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}
