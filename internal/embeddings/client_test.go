package embeddings

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	got, err := Normalize([]float32{3, 4})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", got)
	}

	if _, err := Normalize([]float32{0, 0}); err == nil {
		t.Error("expected error for zero vector")
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("model = %q, want %q", req.Model, DefaultModel)
		}
		out := embedResponse{}
		for range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{0, 2})
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	v, err := c.Generate(t.Context(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(v) != 2 || v[0] != 0 || v[1] != 1 {
		t.Errorf("Generate = %v, want [0 1]", v)
	}

	batch, err := c.GenerateBatch(t.Context(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Errorf("GenerateBatch returned %d vectors, want 3", len(batch))
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := New(Config{BaseURL: srv.URL}).Generate(t.Context(), "x"); err == nil {
		t.Fatal("expected error")
	}
}
