package textgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteSendsEnvelope(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"content": "hello"})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Model: "text-gen-medium"})
	out, err := c.Complete(context.Background(), Request{
		Messages:     []Message{{Role: "user", Content: "hi"}},
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("content = %q, want hello", out)
	}
	if got.Model != "text-gen-medium" {
		t.Fatalf("model = %q, want default applied", got.Model)
	}
	if got.SystemPrompt != "be brief" {
		t.Fatalf("system_prompt = %q", got.SystemPrompt)
	}
}

func TestCompleteSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "upstream sad"}})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		FrontCover string `json:"frontCover"`
		BackCover  string `json:"backCover"`
	}

	cases := []struct {
		name string
		raw  string
	}{
		{"plain", `{"frontCover":"a","backCover":"b"}`},
		{"fenced", "```json\n{\"frontCover\":\"a\",\"backCover\":\"b\"}\n```"},
		{"prose wrapped", "Sure! Here you go: {\"frontCover\":\"a\",\"backCover\":\"b\"} Enjoy."},
		{"double encoded", `"{\"frontCover\":\"a\",\"backCover\":\"b\"}"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p payload
			if err := DecodeJSON(tc.raw, &p); err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if p.FrontCover != "a" || p.BackCover != "b" {
				t.Fatalf("decoded %+v", p)
			}
		})
	}
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON("not json at all", &out); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}
