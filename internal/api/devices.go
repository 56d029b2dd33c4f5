package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/farmra-core/internal/audit"
	"github.com/nerrad567/farmra-core/internal/auth"
	"github.com/nerrad567/farmra-core/internal/device"
)

// assignRequest is the request body for PUT /devices/{id}/assign.
// A missing id leaves that reference unchanged.
type assignRequest struct {
	CustomerID   *string `json:"customerId"`
	TechnicianID *string `json:"technicianId"`
}

// handleListDevices returns devices visible to the caller.
//
// Query parameters:
//   - status: filter by status (online, weak, offline, deactivated)
//
// CUSTOMER callers only see devices whose owning customer is themselves.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := principalFromContext(ctx)
	status := device.Status(r.URL.Query().Get("status"))

	var (
		devices []device.Device
		err     error
	)
	switch {
	case auth.IsCustomerScoped(identity.Role):
		if status != "" {
			if err := device.ValidateStatusFilter(status); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
		}
		devices, err = s.devices.ListByCustomer(ctx, identity.PrincipalID.String())
		if err == nil && status != "" {
			devices = filterByStatus(devices, status)
		}
	case status != "":
		devices, err = s.devices.ListByStatus(ctx, status)
	default:
		devices, err = s.devices.List(ctx)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeDeviceList(w, devices)
}

// handleListDevicesByStatus returns devices with the status in the path.
func (s *Server) handleListDevicesByStatus(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListByStatus(r.Context(), device.Status(chi.URLParam(r, "status")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeDeviceList(w, devices)
}

// handleListDevicesByCustomer returns devices owned by a customer.
func (s *Server) handleListDevicesByCustomer(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListByCustomer(r.Context(), chi.URLParam(r, "customerId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeDeviceList(w, devices)
}

// handleListDevicesByTechnician returns devices assigned to a technician.
func (s *Server) handleListDevicesByTechnician(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListByTechnician(r.Context(), chi.URLParam(r, "technicianId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeDeviceList(w, devices)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	identity, _ := principalFromContext(r.Context())
	if !canSee(identity, dev) {
		writeForbidden(w, "device belongs to another customer")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev device.Device
	if err := decodeJSON(r, &dev); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	created, err := s.devices.Register(r.Context(), &dev)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditDevice(r, audit.ActionCreate, created.ID, map[string]any{"name": created.Name})
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateDevice partially updates a device. Only fields present in
// the body are applied.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var patch device.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if patch.IsEmpty() {
		writeBadRequest(w, "no fields to update")
		return
	}

	id := chi.URLParam(r, "id")
	dev, err := s.devices.Update(r.Context(), id, patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditDevice(r, audit.ActionUpdate, id, nil)
	writeJSON(w, http.StatusOK, dev)
}

// handleAssignDevice sets the owning customer and/or assigned technician.
func (s *Server) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.CustomerID == nil && req.TechnicianID == nil {
		writeBadRequest(w, "customerId or technicianId is required")
		return
	}

	id := chi.URLParam(r, "id")
	dev, err := s.devices.Assign(r.Context(), id, req.CustomerID, req.TechnicianID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	details := map[string]any{}
	if req.CustomerID != nil {
		details["customer_id"] = *req.CustomerID
	}
	if req.TechnicianID != nil {
		details["technician_id"] = *req.TechnicianID
	}
	s.auditDevice(r, audit.ActionAssign, id, details)
	writeJSON(w, http.StatusOK, dev)
}

// handleClearCustomer removes the owning customer reference.
func (s *Server) handleClearCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.devices.ClearCustomer(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditDevice(r, audit.ActionUnassign, id, map[string]any{"reference": "customer"})
	writeJSON(w, http.StatusOK, dev)
}

// handleClearTechnician removes the assigned technician reference.
func (s *Server) handleClearTechnician(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.devices.ClearTechnician(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditDevice(r, audit.ActionUnassign, id, map[string]any{"reference": "technician"})
	writeJSON(w, http.StatusOK, dev)
}

// handleDeactivateDevice saves live telemetry into the snapshot and marks
// the device deactivated. Repeating it is a no-op.
func (s *Server) handleDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.devices.Deactivate(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditDevice(r, audit.ActionDeactivate, id, nil)
	writeJSON(w, http.StatusOK, dev)
}

// handleActivateDevice restores the snapshot saved by deactivate.
func (s *Server) handleActivateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.devices.Activate(r.Context(), id)
	if errors.Is(err, device.ErrInvalidState) {
		writeBadRequest(w, "no saved state to restore")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditDevice(r, audit.ActionActivate, id, map[string]any{"status": dev.Status})
	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditDevice(r, audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// auditDevice records a device action attributed to the caller.
func (s *Server) auditDevice(r *http.Request, action, deviceID string, details map[string]any) {
	identity, _ := principalFromContext(r.Context())
	s.recordAudit(r, action, audit.EntityDevice, deviceID, identity.PrincipalID.String(), details)
}

// canSee reports whether identity may read dev.
func canSee(identity auth.Identity, dev *device.Device) bool {
	if !auth.IsCustomerScoped(identity.Role) {
		return true
	}
	return dev.CustomerID != nil && *dev.CustomerID == identity.PrincipalID.String()
}

func filterByStatus(devices []device.Device, status device.Status) []device.Device {
	out := devices[:0]
	for _, d := range devices {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

func writeDeviceList(w http.ResponseWriter, devices []device.Device) {
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}
