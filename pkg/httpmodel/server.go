package httpmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/nekomi2/LiftedGAN/pkg/client"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

// Handler serves one loaded model over the JSON protocol. Model calls are
// serialized; a render frame may live in a buffer the model reuses.
type Handler struct {
	model client.Model
	names map[string]bool
	mux   *http.ServeMux

	mu sync.Mutex
}

// NewHandler serves model. A load request must name the model by
// Info().Name or one of names.
func NewHandler(model client.Model, names ...string) *Handler {
	h := &Handler{
		model: model,
		names: map[string]bool{model.Info().Name: true},
		mux:   http.NewServeMux(),
	}
	for _, n := range names {
		h.names[n] = true
	}
	h.mux.HandleFunc("POST "+PathLoad, h.handleLoad)
	h.mux.HandleFunc("POST "+PathStyle, h.handleStyle)
	h.mux.HandleFunc("POST "+PathEstimate, h.handleEstimate)
	h.mux.HandleFunc("POST "+PathRender, h.handleRender)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if !readJSON(w, r, &req) {
		return
	}
	if !h.names[req.Path] {
		writeError(w, http.StatusNotFound, ErrorResponse{Kind: KindModelLoad, Error: fmt.Sprintf("model %q not found", req.Path)})
		return
	}
	if d, ok := h.model.(interface{ Device() types.Device }); ok && req.Device != "" && types.Device(req.Device) != d.Device() {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{
			Kind:   KindDevice,
			Device: req.Device,
			Error:  fmt.Sprintf("model is served on %s", d.Device()),
		})
		return
	}
	writeJSON(w, LoadResponse{Info: h.model.Info(), MeanStyle: encode(h.model.MeanStyle())})
}

func (h *Handler) handleStyle(w http.ResponseWriter, r *http.Request) {
	var req StyleRequest
	if !readJSON(w, r, &req) {
		return
	}
	latent, err := decode(req.Latent)
	if err != nil || latent == nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Kind: KindRequest, Error: "invalid latent"})
		return
	}
	h.mu.Lock()
	style, err := h.model.StyleMap(r.Context(), req.Exec, latent)
	h.mu.Unlock()
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, StyleResponse{Style: encode(style)})
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if !readJSON(w, r, &req) {
		return
	}
	style, err := decode(req.Style)
	if err != nil || style == nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Kind: KindRequest, Error: "invalid style"})
		return
	}
	h.mu.Lock()
	bundle, err := h.model.Estimate(r.Context(), req.Exec, style)
	h.mu.Unlock()
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, encodeBundle(bundle))
}

func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if !readJSON(w, r, &req) {
		return
	}
	in, err := decodeRenderInput(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Kind: KindRequest, Error: err.Error()})
		return
	}

	h.mu.Lock()
	out, err := h.model.Render(r.Context(), req.Exec, in)
	if err != nil {
		h.mu.Unlock()
		writeModelError(w, err)
		return
	}
	resp := RenderResponse{Frame: encode(out.Frame.Detach())}
	h.mu.Unlock()
	for _, a := range out.Aux {
		resp.Aux = append(resp.Aux, encode(a))
	}
	writeJSON(w, resp)
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Kind: KindRequest, Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func writeModelError(w http.ResponseWriter, err error) {
	var devErr *types.DeviceError
	var loadErr *types.ModelLoadError
	switch {
	case errors.As(err, &devErr):
		status := http.StatusServiceUnavailable
		if errors.Is(err, types.ErrOutOfMemory) {
			status = http.StatusInsufficientStorage
		}
		writeError(w, status, ErrorResponse{Kind: KindDevice, Device: string(devErr.Device), Error: err.Error()})
	case errors.As(err, &loadErr):
		writeError(w, http.StatusUnprocessableEntity, ErrorResponse{Kind: KindModelLoad, Error: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, ErrorResponse{Kind: KindInternal, Error: err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, e ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		log.Printf("[httpmodel] write error response: %v", err)
	}
}

// writeJSON marshals v before touching the status line so an encoding
// failure still reaches the client as a typed error.
func writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("[httpmodel] encode response: %v", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Kind: KindInternal, Error: fmt.Sprintf("encode response: %v", err)})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		log.Printf("[httpmodel] write response: %v", err)
	}
}
