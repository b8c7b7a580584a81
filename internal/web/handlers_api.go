package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/converter/exposes"
	"zigbee-efekta/internal/coordinator"
	"zigbee-efekta/internal/store"
	"zigbee-efekta/internal/zcl"
)

// statusFor maps coordinator and converter errors to HTTP status codes.
// A ZCL status from the device is a 502: the request was valid but the
// device refused it.
func statusFor(err error) int {
	var zclErr *zcl.StatusError
	switch {
	case errors.Is(err, coordinator.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrInvalidName),
		errors.Is(err, converter.ErrUnknownModel),
		errors.Is(err, converter.ErrUnknownKey),
		errors.Is(err, converter.ErrInvalidValue),
		errors.Is(err, converter.ErrNotSupported),
		errors.Is(err, exposes.ErrInvalidValue),
		errors.Is(err, exposes.ErrReadOnly):
		return http.StatusBadRequest
	case errors.As(err, &zclErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleAPIListDefinitions(w http.ResponseWriter, r *http.Request) {
	all := s.coord.Definitions().All()
	list := make([]converter.Info, 0, len(all))
	for _, def := range all {
		list = append(list, def.Info())
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAPIGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.coord.Definitions().Model(r.PathValue("model"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "definition not found")
		return
	}
	s.writeJSON(w, http.StatusOK, def.Info())
}

func (s *Server) handleAPIDefinitionIcon(w http.ResponseWriter, r *http.Request) {
	def, err := s.coord.Definitions().Model(r.PathValue("model"))
	if err != nil || def.Icon == "" {
		s.writeError(w, http.StatusNotFound, "icon not found")
		return
	}
	mime, data, err := parseDataURI(def.Icon)
	if err != nil {
		s.logger.Error("definition icon", "model", def.Model, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "max-age=86400")
	w.Write(data)
}

// parseDataURI decodes a base64 data URI such as data:image/jpeg;base64,...
func parseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("data URI is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mime, data, nil
}

// deviceView is a stored device with the definition it was matched to.
type deviceView struct {
	*store.Device
	Definition *converter.Info `json:"definition"`
}

func (s *Server) view(dev *store.Device) deviceView {
	v := deviceView{Device: dev}
	if def, err := s.coord.Devices().Definition(dev); err == nil {
		info := def.Info()
		v.Definition = &info
	}
	return v
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.Devices().ListDevices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.view(dev))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.coord.Devices().GetDevice(r.PathValue("ieee"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(dev))
}

type renameDeviceRequest struct {
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	var req renameDeviceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.Devices().Rename(r.PathValue("ieee"), req.FriendlyName); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "friendly_name": req.FriendlyName})
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	if err := s.coord.Devices().RemoveDevice(r.Context(), ieee); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("delete device", "err", err, "ieee", ieee)
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPISetState takes a zigbee2mqtt style set payload, e.g.
// {"high_temp": 30, "enable_temp": "ON"}, and answers with the state the
// encoders committed.
func (s *Server) handleAPISetState(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if !s.decodeBody(w, r, &values) {
		return
	}
	if len(values) == 0 {
		s.writeError(w, http.StatusBadRequest, "no values to set")
		return
	}
	ieee := r.PathValue("ieee")
	state, err := s.coord.Devices().SetState(r.Context(), ieee, values)
	if state == nil {
		state = converter.State{}
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("set state", "err", err, "ieee", ieee)
		}
		s.writeJSON(w, status, map[string]any{"state": state, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// handleAPIGetState asks the device to report the keys of the payload.
// Values arrive asynchronously as state_update events.
func (s *Server) handleAPIGetState(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req) == 0 {
		s.writeError(w, http.StatusBadRequest, "no keys to read")
		return
	}
	keys := slices.Sorted(maps.Keys(req))
	ieee := r.PathValue("ieee")
	if err := s.coord.Devices().GetState(r.Context(), ieee, keys); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("get state", "err", err, "ieee", ieee)
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "requested", "keys": keys})
}

func (s *Server) handleAPIConfigure(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	if err := s.coord.Devices().Configure(r.Context(), ieee); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("configure", "err", err, "ieee", ieee)
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPISetOptions(w http.ResponseWriter, r *http.Request) {
	var opts converter.Options
	if !s.decodeBody(w, r, &opts) {
		return
	}
	if err := s.coord.Devices().SetOptions(r.PathValue("ieee"), opts); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "options": opts})
}

func (s *Server) handleAPINetworkInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.NetworkInfo())
}

type permitJoinRequest struct {
	Duration uint8 `json:"duration"`
}

func (s *Server) handleAPIPermitJoin(w http.ResponseWriter, r *http.Request) {
	var req permitJoinRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.PermitJoin(r.Context(), req.Duration); err != nil {
		s.logger.Error("permit join", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "duration": req.Duration})
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// decodeBody reads a JSON body of at most 1 MB into v. It writes the error
// response itself and reports whether the caller should continue.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
