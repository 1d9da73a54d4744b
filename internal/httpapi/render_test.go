package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agrimatch/core/internal/apperr"
)

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"id": "order-1"})

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusCreated)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	if body["id"] != "order-1" {
		t.Errorf("body[id] = %s, want order-1", body["id"])
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, apperr.ErrInsufficientVolume)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusConflict)
	}

	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body.Error != apperr.ErrInsufficientVolume.Error() {
		t.Errorf("body.Error = %s, want %s", body.Error, apperr.ErrInsufficientVolume.Error())
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/whatever", strings.NewReader(`{"crop_type":"tomato","bogus_field":true}`))
	var dst struct {
		CropType string `json:"crop_type"`
	}
	if err := decodeJSON(req, &dst); err == nil {
		t.Error("decodeJSON() error = nil, want rejection of an unknown field")
	}
}

func TestDecodeJSONAcceptsKnownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/whatever", strings.NewReader(`{"crop_type":"tomato"}`))
	var dst struct {
		CropType string `json:"crop_type"`
	}
	if err := decodeJSON(req, &dst); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	if dst.CropType != "tomato" {
		t.Errorf("CropType = %s, want tomato", dst.CropType)
	}
}
