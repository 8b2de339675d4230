package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"voicetotext-service/internal/apperr"
	"voicetotext-service/internal/models"
	"voicetotext-service/internal/observability/logging"
	"voicetotext-service/internal/schema"
	"voicetotext-service/internal/service/transcription"
	"voicetotext-service/internal/storage"
)

const (
	fileField = "file"
	workField = "work"

	defaultAudioContentType = "audio/mpeg"

	// multipartMemory is held in memory by ParseMultipartForm; larger parts
	// spill to temp files.
	multipartMemory = 32 << 20
	// multipartOverhead allows for the form fields around the audio part.
	multipartOverhead = 1 << 20
)

type handlers struct {
	orch           *transcription.Orchestrator
	repo           storage.Repository
	events         transcription.EventPublisher
	validator      *schema.Validator
	maxUploadBytes int64
}

// transcribe streams the "file" part straight into the orchestrator, so the
// upload is never buffered whole in memory.
func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: expected multipart/form-data: %v", apperr.ErrInvalidInput, err))
		return
	}
	part, err := nextPart(mr, fileField)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer part.Close()

	rec, err := h.orch.Transcribe(r.Context(), transcription.Upload{
		FileName:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.TranscriptionResponse{
		ID:       rec.ID,
		Text:     rec.TranscribedText,
		Segments: rec.Segments,
	})
}

// nextPart advances mr to the first part named field.
func nextPart(mr *multipart.Reader, field string) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: form field %q is required", apperr.ErrInvalidInput, field)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read multipart body: %v", apperr.ErrInvalidInput, err)
		}
		if part.FormName() == field {
			return part, nil
		}
		part.Close()
	}
}

// workPayload is the "work" form field of POST /history. Edited copies
// default to the recognized values when omitted.
type workPayload struct {
	FileName        string            `json:"fileName"`
	TranscribedText string            `json:"transcribedText"`
	EditedText      *string           `json:"editedText"`
	Segments        []models.Segment  `json:"segments"`
	EditedSegments  *[]models.Segment `json:"editedSegments"`
	Language        string            `json:"language"`
}

func (p workPayload) record(fallbackName, contentType string) models.Record {
	name := p.FileName
	if name == "" {
		name = filepath.Base(strings.ReplaceAll(fallbackName, "\\", "/"))
	}
	rec := models.NewRecord("", name, p.TranscribedText, p.Segments, time.Time{})
	if p.EditedText != nil {
		rec.EditedText = *p.EditedText
	}
	if p.EditedSegments != nil {
		rec.EditedSegments = models.CloneSegments(*p.EditedSegments)
	}
	rec.ContentType = contentType
	rec.Language = p.Language
	return rec
}

func (h *handlers) saveHistory(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, fmt.Errorf("%w: parse multipart form: %v", apperr.ErrInvalidInput, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(fileField)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: form field %q is required", apperr.ErrInvalidInput, fileField))
		return
	}
	defer file.Close()

	work := r.FormValue(workField)
	if work == "" {
		writeError(w, r, fmt.Errorf("%w: form field %q is required", apperr.ErrInvalidInput, workField))
		return
	}
	var payload workPayload
	if err := json.Unmarshal([]byte(work), &payload); err != nil {
		writeError(w, r, fmt.Errorf("%w: malformed %s JSON: %v", apperr.ErrInvalidInput, workField, err))
		return
	}

	rec := payload.record(header.Filename, header.Header.Get("Content-Type"))
	if err := h.validator.ValidateRecord(rec); err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := h.repo.Create(r.Context(), rec, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.WithRecord(saved.ID).Info().
		Str("fileName", saved.FileName).
		Int64("audioBytes", saved.AudioSize).
		Msg("Work saved")

	h.publish(r.Context(), models.Event{
		EventType: models.EventRecordSaved,
		RecordID:  saved.ID,
		FileName:  saved.FileName,
		Segments:  len(saved.EditedSegments),
	})
	writeJSON(w, http.StatusOK, models.SaveResponse{ID: saved.ID, Message: "Work saved successfully"})
}

func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) updateHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var u models.RecordUpdate
	dec := json.NewDecoder(io.LimitReader(r.Body, multipartMemory))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		writeError(w, r, fmt.Errorf("%w: malformed update JSON: %v", apperr.ErrInvalidInput, err))
		return
	}
	if err := h.validator.ValidateUpdate(u); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.repo.Update(r.Context(), id, u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logging.WithRecord(id).Info().Msg("Work updated")

	h.publish(r.Context(), models.Event{
		EventType: models.EventRecordUpdated,
		RecordID:  rec.ID,
		FileName:  rec.FileName,
		Segments:  len(rec.EditedSegments),
	})
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) historyAudio(w http.ResponseWriter, r *http.Request) {
	audio, err := h.repo.Audio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if audio.Size == 0 {
		writeError(w, r, fmt.Errorf("%w: audio file is empty", apperr.ErrUpstream))
		return
	}

	ct := audio.ContentType
	if !transcription.IsAudioContentType(ct) {
		ct = defaultAudioContentType
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": audio.FileName}))

	http.ServeContent(w, r, audio.FileName, time.Time{}, audio.Body)
}

func (h *handlers) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	logging.WithRecord(id).Info().Msg("Work deleted")

	h.publish(r.Context(), models.Event{EventType: models.EventRecordDeleted, RecordID: id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Work deleted successfully"})
}

// publish is best effort; history changes never fail on event delivery.
func (h *handlers) publish(ctx context.Context, ev models.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(context.WithoutCancel(ctx), ev.RecordID, ev); err != nil {
		log.Warn().Err(err).
			Str("eventType", ev.EventType).
			Str("recordId", ev.RecordID).
			Msg("Failed to publish history event")
	}
}
