package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/image-classifier/internal/classify"
	"github.com/Brownie44l1/image-classifier/internal/imageload"
	"github.com/Brownie44l1/image-classifier/internal/session"
)

const (
	msgNoImageField = "No image file provided. Use 'image' as the form field name"
	msgInvalidImage = "Invalid image. Supported: PNG, JPEG, GIF, BMP, WEBP"
)

type Handler struct {
	sessions       *session.Store
	newController  session.Factory
	maxUploadBytes int64
	log            *zap.Logger
}

func NewHandler(sessions *session.Store, newController session.Factory, maxUploadBytes int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		sessions:       sessions,
		newController:  newController,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

type sessionResponse struct {
	ID string `json:"id"`
	classify.View
}

// PredictionResponse is the one-shot /predict/image answer.
type PredictionResponse struct {
	Class       string               `json:"class"`
	Confidence  float64              `json:"confidence"`
	Predictions []predictionResponse `json:"predictions"`
}

type predictionResponse struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, c := h.sessions.Create()
	h.log.Info("Session created", zap.String("session_id", id))
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id, View: c.View()})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := h.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: c.View()})
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(r.PathValue("id")) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectImage replaces the session's image with the uploaded file.
func (h *Handler) SelectImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := h.lookup(w, id)
	if !ok {
		return
	}

	file, ok := h.formFile(w, r)
	if !ok {
		return
	}

	err := c.OnImageSelected(r.Context(), file)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: c.View()})
	case errors.Is(err, imageload.ErrInvalidInput):
		http.Error(w, msgInvalidImage, http.StatusBadRequest)
	case errors.Is(err, classify.ErrSuperseded):
		http.Error(w, "Image selection superseded by a newer upload", http.StatusConflict)
	default:
		h.log.Error("Image selection failed", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Failed to load image", http.StatusInternalServerError)
	}
}

// Classify starts classification of the session's current image. With
// ?wait=true it answers once the result is in.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := h.lookup(w, id)
	if !ok {
		return
	}

	if !c.OnClassifyRequested(r.Context()) {
		writeJSON(w, http.StatusConflict, sessionResponse{ID: id, View: c.View()})
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		c.Wait()
		writeJSON(w, http.StatusOK, sessionResponse{ID: id, View: c.View()})
		return
	}
	writeJSON(w, http.StatusAccepted, sessionResponse{ID: id, View: c.View()})
}

// PredictFromImage loads and classifies an upload in a throwaway session.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	file, ok := h.formFile(w, r)
	if !ok {
		return
	}

	c := h.newController()
	if err := c.OnImageSelected(r.Context(), file); err != nil {
		http.Error(w, msgInvalidImage, http.StatusBadRequest)
		return
	}

	preds, err := c.RequestClassification(r.Context(), c.View().Image)
	if err != nil {
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	resp := PredictionResponse{Predictions: make([]predictionResponse, len(preds))}
	for i, p := range preds {
		resp.Predictions[i] = predictionResponse{Label: p.Label, Probability: p.Probability}
	}
	if len(preds) > 0 {
		resp.Class = preds[0].Label
		resp.Confidence = preds[0].Probability
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) lookup(w http.ResponseWriter, id string) (*classify.Controller, bool) {
	c, err := h.sessions.Get(id)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return c, true
}

func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (imageload.File, bool) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, msgNoImageField, http.StatusBadRequest)
		return nil, false
	}
	file.Close()

	h.log.Debug("Received file", zap.String("filename", header.Filename), zap.Int64("size", header.Size))
	return imageload.FromMultipart(header), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
