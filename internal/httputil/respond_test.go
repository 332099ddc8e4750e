package httputil

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}

	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"a","extra":1}`))
	if err := DecodeJSON(r, &target); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"a"} {"name":"b"}`))
	if err := DecodeJSON(r, &target); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"ok"}`))
	if err := DecodeJSON(r, &target); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if target.Name != "ok" {
		t.Fatalf("unexpected decode result %q", target.Name)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	body, truncated, err := ReadAllWithLimit(strings.NewReader("hello world"), 5)
	if err != nil {
		t.Fatalf("ReadAllWithLimit failed: %v", err)
	}
	if !truncated || string(body) != "hello" {
		t.Fatalf("expected truncated read, got %q truncated=%v", body, truncated)
	}

	if _, err := ReadAllStrict(strings.NewReader("hello world"), 5); err == nil {
		t.Fatal("expected strict read to fail over limit")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:4444"
	if got := ClientIP(r); got != "192.0.2.10" {
		t.Fatalf("expected remote addr host, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.5" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
