package language

import (
	"errors"
	"testing"

	"voicetotext-service/internal/apperr"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"uk", "uk", false},
		{"UK", "uk", false},
		{"uk-UA", "uk", false},
		{" en-GB ", "en", false},
		{"", "", true},
		{"not a tag!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBCP47(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"uk", "uk-UA"},
		{"en", "en-US"},
		{"en-GB", "en-GB"},
		{"???", "???"},
	}

	for _, tt := range tests {
		if got := BCP47(tt.in); got != tt.want {
			t.Errorf("BCP47(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewDetector_NeedsTwoLanguages(t *testing.T) {
	if _, err := NewDetector("uk"); err == nil {
		t.Error("expected error for a single candidate")
	}
	if _, err := NewDetector("uk", "uk-UA"); err == nil {
		t.Error("expected duplicates to collapse to one candidate")
	}
}

func TestDetector_Detect(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"ukrainian", "Доброго ранку, сьогодні ми поговоримо про історію нашого міста та його мешканців.", "uk"},
		{"english", "Good morning, today we are going to talk about the history of our city.", "en"},
		{"too short", "Привіт", ""},
		{"blank", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(tt.text); got != tt.want {
				t.Errorf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
