package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adverant/nexus/voterroll-worker/internal/clients"
	"github.com/adverant/nexus/voterroll-worker/internal/ocr"
)

func newEngine(t *testing.T, h http.HandlerFunc) *Engine {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(clients.NewOCRServiceClient(srv.URL, 5*time.Second), []string{"hi", "en"})
}

func TestRecognize(t *testing.T) {
	var got clients.TextExtractionRequest
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/internal/vision/extract-text" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"text":"Age : 45","confidence":0.93,"modelUsed":"m"}}`))
	})

	res, err := e.Recognize(context.Background(), ocr.Input{ID: "j/p1/c2", Image: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Text != "Age : 45" || res.Confidence != 0.93 || res.Engine != "remote" {
		t.Errorf("result = %+v", res)
	}

	img, _ := base64.StdEncoding.DecodeString(got.Image)
	if len(img) != 3 || got.Format != "base64" {
		t.Errorf("image not sent as base64: %+v", got)
	}
	if got.Language != "hi,en" {
		t.Errorf("Language = %q, want hi,en", got.Language)
	}
	if got.Metadata["cell"] != "j/p1/c2" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
}

func TestRecognizeStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := e.Recognize(context.Background(), ocr.Input{})
			var se *ocr.ServiceError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want *ocr.ServiceError", err)
			}
			if se.Transient != tt.transient {
				t.Errorf("Transient = %v, want %v", se.Transient, tt.transient)
			}
		})
	}
}

func TestRecognizeUnsuccessfulBody(t *testing.T) {
	e := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"unsupported image"}`))
	})
	_, err := e.Recognize(context.Background(), ocr.Input{})
	var se *ocr.ServiceError
	if !errors.As(err, &se) || se.Message != "unsupported image" {
		t.Fatalf("error = %v, want service error with message", err)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := clients.NewOCRServiceClient(srv.URL+"/", time.Second)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
