// Package schema validates records supplied by API clients.
package schema

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"voicetotext-service/internal/apperr"
	"voicetotext-service/internal/models"
)

const maxFileNameLen = 255

// Validator checks client-supplied records before they reach the repository.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// ValidateRecord checks a record posted to the history endpoint.
func (v *Validator) ValidateRecord(rec models.Record) error {
	if err := v.ValidateFileName(rec.FileName); err != nil {
		return err
	}
	if !utf8.ValidString(rec.TranscribedText) || !utf8.ValidString(rec.EditedText) {
		return fmt.Errorf("%w: text is not valid UTF-8", apperr.ErrInvalidInput)
	}
	if err := v.ValidateSegments("segments", rec.Segments); err != nil {
		return err
	}
	return v.ValidateSegments("editedSegments", rec.EditedSegments)
}

// ValidateUpdate checks a partial record update.
func (v *Validator) ValidateUpdate(u models.RecordUpdate) error {
	if u.Empty() {
		return fmt.Errorf("%w: update must set editedText or editedSegments", apperr.ErrInvalidInput)
	}
	if u.EditedText != nil && !utf8.ValidString(*u.EditedText) {
		return fmt.Errorf("%w: editedText is not valid UTF-8", apperr.ErrInvalidInput)
	}
	if u.EditedSegments != nil {
		return v.ValidateSegments("editedSegments", *u.EditedSegments)
	}
	return nil
}

// ValidateFileName rejects names that cannot be used as part of a blob name.
func (v *Validator) ValidateFileName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: fileName is required", apperr.ErrInvalidInput)
	case len(name) > maxFileNameLen:
		return fmt.Errorf("%w: fileName longer than %d bytes", apperr.ErrInvalidInput, maxFileNameLen)
	case strings.ContainsAny(name, "/\\\x00"), name == ".", name == "..":
		return fmt.Errorf("%w: fileName %q contains path elements", apperr.ErrInvalidInput, name)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: fileName is not valid UTF-8", apperr.ErrInvalidInput)
	}
	return nil
}

// ValidateSegments checks timing sanity. Extra model fields are not inspected.
func (v *Validator) ValidateSegments(field string, segments []models.Segment) error {
	for i, s := range segments {
		if math.IsNaN(s.Start) || math.IsNaN(s.End) || s.Start < 0 || s.End < 0 {
			return fmt.Errorf("%w: %s[%d] has negative or NaN timing", apperr.ErrInvalidInput, field, i)
		}
		if s.End < s.Start {
			return fmt.Errorf("%w: %s[%d] ends before it starts (%.3f < %.3f)", apperr.ErrInvalidInput, field, i, s.End, s.Start)
		}
	}
	return nil
}
