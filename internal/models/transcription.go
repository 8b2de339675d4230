// Package models defines the data structures persisted and exchanged by the service.
package models

import (
	"encoding/json"
	"time"
)

// Record is a persisted transcription together with its editable copies.
type Record struct {
	ID              string    `json:"id"`
	FileName        string    `json:"fileName"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
	TranscribedText string    `json:"transcribedText"`
	EditedText      string    `json:"editedText"`
	Segments        []Segment `json:"segments"`
	EditedSegments  []Segment `json:"editedSegments"`

	ContentType      string  `json:"contentType,omitempty"`
	AudioSize        int64   `json:"audioSize"`
	DurationSeconds  float64 `json:"durationSeconds"`
	Language         string  `json:"language,omitempty"`
	DetectedLanguage string  `json:"detectedLanguage,omitempty"`
}

// BlobName returns the storage name of the record's audio.
func (r Record) BlobName() string {
	return BlobName(r.ID, r.FileName)
}

// BlobName builds the audio blob name for a record id and file name.
func BlobName(id, fileName string) string {
	return id + "_" + fileName
}

// NewRecord builds a record from recognition output. The edited copies start
// equal to the recognized values but share no memory with them.
func NewRecord(id, fileName, text string, segments []Segment, createdAt time.Time) Record {
	return Record{
		ID:              id,
		FileName:        fileName,
		CreatedAt:       createdAt.UTC(),
		TranscribedText: text,
		EditedText:      text,
		Segments:        CloneSegments(segments),
		EditedSegments:  CloneSegments(segments),
	}
}

// RecordUpdate carries the user-editable fields of a record. Nil fields are left unchanged.
type RecordUpdate struct {
	EditedText     *string    `json:"editedText,omitempty"`
	EditedSegments *[]Segment `json:"editedSegments,omitempty"`
}

// Apply writes the non-nil fields of u onto r.
func (u RecordUpdate) Apply(r *Record, now time.Time) {
	if u.EditedText != nil {
		r.EditedText = *u.EditedText
	}
	if u.EditedSegments != nil {
		r.EditedSegments = CloneSegments(*u.EditedSegments)
	}
	r.UpdatedAt = now.UTC()
}

// Empty reports whether the update changes nothing.
func (u RecordUpdate) Empty() bool {
	return u.EditedText == nil && u.EditedSegments == nil
}

// TranscriptionResponse is returned by POST /transcribe.
type TranscriptionResponse struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// SaveResponse is returned by POST /history.
type SaveResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Progress channel statuses.
const (
	StatusConnected       = "connected"
	StatusMessageReceived = "message_received"
	StatusFailed          = "failed"
)

// StatusFrame is a non-progress frame on the progress channel.
type StatusFrame struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
	JobID  string `json:"jobId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ProgressFrame reports the progress of the job identified by JobID.
type ProgressFrame struct {
	Progress int    `json:"progress"`
	JobID    string `json:"jobId,omitempty"`
}

// Event is a transcription lifecycle event published to Kafka.
type Event struct {
	EventType       string  `json:"eventType"`
	RecordID        string  `json:"recordId,omitempty"`
	JobID           string  `json:"jobId,omitempty"`
	FileName        string  `json:"fileName,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Segments        int     `json:"segments,omitempty"`
	Error           string  `json:"error,omitempty"`
	Timestamp       int64   `json:"timestamp"`
}

// Lifecycle event types.
const (
	EventTranscriptionCompleted = "transcription.completed"
	EventTranscriptionFailed    = "transcription.failed"
	EventRecordSaved            = "transcription.saved"
	EventRecordUpdated          = "transcription.updated"
	EventRecordDeleted          = "transcription.deleted"
)

// rawFields is used to keep model-specific segment keys verbatim.
type rawFields = map[string]json.RawMessage
