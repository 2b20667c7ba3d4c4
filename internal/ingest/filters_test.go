package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"klaxer/internal/session"
)

func newFiltersServer(t *testing.T) (*httptest.Server, *session.Filters) {
	t.Helper()
	filters := session.NewFilters(time.Now)
	mux := http.NewServeMux()
	NewFiltersHandler(filters).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, filters
}

func TestFiltersAddAndList(t *testing.T) {
	t.Parallel()

	server, _ := newFiltersServer(t)

	body := bytes.NewReader([]byte(`{"field":"message","contains":"maintenance","ttl_sec":600}`))
	response, err := http.Post(server.URL+"/filters", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}
	var created session.Filter
	if err := json.NewDecoder(response.Body).Decode(&created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" || created.Contains != "maintenance" {
		t.Fatalf("unexpected created filter %+v", created)
	}
	if created.ExpiresAt == nil {
		t.Fatalf("ttl must set expiry")
	}

	listResponse, err := http.Get(server.URL + "/filters")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer listResponse.Body.Close()
	var listed []session.Filter
	if err := json.NewDecoder(listResponse.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected listing %+v", listed)
	}
}

func TestFiltersListEmptyIsArray(t *testing.T) {
	t.Parallel()

	server, _ := newFiltersServer(t)
	response, err := http.Get(server.URL + "/filters")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer response.Body.Close()

	buffer := new(bytes.Buffer)
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if got := string(bytes.TrimSpace(buffer.Bytes())); got != "[]" {
		t.Fatalf("expected empty JSON array, got %q", got)
	}
}

func TestFiltersAddValidation(t *testing.T) {
	t.Parallel()

	server, _ := newFiltersServer(t)
	for name, payload := range map[string]string{
		"bad json":       `{`,
		"bad field":      `{"field":"timestamp","contains":"x"}`,
		"empty contains": `{"field":"message","contains":"  "}`,
	} {
		response, err := http.Post(server.URL+"/filters", "application/json", bytes.NewReader([]byte(payload)))
		if err != nil {
			t.Fatalf("%s: post: %v", name, err)
		}
		_ = response.Body.Close()
		if response.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, response.StatusCode)
		}
	}
}

func TestFiltersRemove(t *testing.T) {
	t.Parallel()

	server, filters := newFiltersServer(t)
	entry := filters.Add("message", "disk", 0)

	request, err := http.NewRequest(http.MethodDelete, server.URL+"/filters/"+entry.ID, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", response.StatusCode)
	}

	response, err = http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	_ = response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", response.StatusCode)
	}
}

func TestFiltersClear(t *testing.T) {
	t.Parallel()

	server, filters := newFiltersServer(t)
	filters.Add("message", "disk", 0)
	filters.Add("title", "maintenance", 0)

	request, err := http.NewRequest(http.MethodDelete, server.URL+"/filters", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", response.StatusCode)
	}
	if len(filters.List()) != 0 {
		t.Fatalf("expected cleared filter list")
	}
}
