package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/RaduG/chanio-core/internal/cio"
)

// DeviceView is the JSON representation of one device.
type DeviceView struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Online       bool   `json:"online"`
	Availability string `json:"availability"`
	Pool         string `json:"pool"`
	Modalias     string `json:"modalias"`
	Driver       string `json:"driver,omitempty"`
	Subchannel   string `json:"subchannel,omitempty"`
	CUType       uint16 `json:"cu_type"`
	CUModel      uint8  `json:"cu_model"`
	DevType      uint16 `json:"dev_type"`
	DevModel     uint8  `json:"dev_model"`
}

// deviceView builds the JSON representation of a device.
func (s *Server) deviceView(dev *cio.Device) DeviceView {
	info := dev.Info()
	v := DeviceView{
		ID:           dev.ID.String(),
		State:        dev.State().String(),
		Online:       dev.Online(),
		Availability: s.core.Availability(dev),
		Pool:         string(s.core.Registry().PoolOf(dev)),
		Modalias:     info.Modalias(),
		CUType:       info.CUType,
		CUModel:      info.CUModel,
		DevType:      info.DevType,
		DevModel:     info.DevModel,
	}
	if drv := dev.Driver(); drv != nil {
		v.Driver = drv.Name()
	}
	if sch := dev.Subchannel(); sch != nil && !sch.IsPseudo() {
		v.Subchannel = sch.ID.String()
	}
	return v
}

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.core.Registry().Devices()
	views := make([]DeviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.deviceView(dev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// lookupDevice resolves the {id} path parameter to a registered device.
// Writes the error response itself and returns nil when resolution fails.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) *cio.Device {
	id, err := cio.ParseDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid device id, expected bus-id notation like 0.0.1234")
		return nil
	}
	dev := s.core.Registry().Device(id)
	if dev == nil {
		writeNotFound(w, "device not found")
		return nil
	}
	return dev
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev := s.lookupDevice(w, r)
	if dev == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.deviceView(dev))
}

// onlineRequest is the request body for PUT /devices/{id}/online.
type onlineRequest struct {
	Online string `json:"online"`
}

// handleSetOnline drives the administrative online attribute. The body
// value follows the attribute-store convention: "0" takes the device
// offline, "1" brings it online, "force" additionally breaks a boxed
// condition.
func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	dev := s.lookupDevice(w, r)
	if dev == nil {
		return
	}

	var req onlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.core.OnlineStore(dev, req.Online)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.deviceView(dev))
	case errors.Is(err, cio.ErrBusy):
		writeError(w, http.StatusConflict, ErrCodeConflict, "an online/offline request is already in progress")
	case errors.Is(err, cio.ErrInvalidID):
		writeBadRequest(w, `online must be "0", "1" or "force"`)
	case errors.Is(err, cio.ErrAlreadyOnline), errors.Is(err, cio.ErrNotOnline):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, cio.ErrBoxed):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device is boxed; retry with online=force")
	case errors.Is(err, cio.ErrNoPath), errors.Is(err, cio.ErrNotOperational):
		writeError(w, http.StatusBadGateway, ErrCodeInternal, err.Error())
	default:
		s.logger.Error("online store failed", "device", dev.ID, "error", err)
		writeInternalError(w, "online transition failed")
	}
}

// handlePurge removes all blacklisted devices that are currently
// offline and reports how many went away.
func (s *Server) handlePurge(w http.ResponseWriter, _ *http.Request) {
	removed := s.core.Purge()
	writeJSON(w, http.StatusOK, map[string]any{
		"purged": removed,
	})
}
