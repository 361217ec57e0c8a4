package dav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, Credentials{Username: "user", Password: "secret"}, 100, 100)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestClientBasicAuth(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		w.WriteHeader(http.StatusOK)
	})

	resp, err := client.Get(context.Background(), srv.URL+"/cal/x.ics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !resp.IsSuccess() {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestClientBearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, Credentials{BearerToken: "tok-123"}, 100, 100)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.Get(context.Background(), srv.URL+"/cal/x.ics"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestClientPropfindHeaders(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PROPFIND" {
			t.Errorf("method = %q", r.Method)
		}
		if got := r.Header.Get("Depth"); got != "1" {
			t.Errorf("depth = %q, want 1", got)
		}
		w.WriteHeader(207)
	})

	resp, err := client.Propfind(context.Background(), srv.URL+"/cal/", 1, PropfindListingBody)
	if err != nil {
		t.Fatalf("Propfind: %v", err)
	}
	if resp.StatusCode != 207 {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestClientPutIfMatch(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-Match"); got != `"etag-1"` {
			t.Errorf("If-Match = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "text/calendar; charset=utf-8" {
			t.Errorf("Content-Type = %q", got)
		}
		w.Header().Set("ETag", `"etag-2"`)
		w.WriteHeader(http.StatusNoContent)
	})

	resp, err := client.Put(context.Background(), srv.URL+"/cal/x.ics", []byte("BEGIN:VCALENDAR"), "text/calendar; charset=utf-8", `"etag-1"`)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if resp.ETag() != `"etag-2"` {
		t.Errorf("etag = %q", resp.ETag())
	}
}

func TestClientPutWithoutIfMatch(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.Header["If-Match"]; present {
			t.Error("If-Match must be absent for unconditioned writes")
		}
		w.WriteHeader(http.StatusCreated)
	})

	if _, err := client.Put(context.Background(), srv.URL+"/cal/x.ics", []byte("x"), "text/calendar; charset=utf-8", ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestClientDeleteIfMatch(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-Match"); got != `"etag-1"` {
			t.Errorf("If-Match = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if _, err := client.Delete(context.Background(), srv.URL+"/cal/x.ics", `"etag-1"`); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("", Credentials{}, 10, 10); err == nil {
		t.Error("expected an error for a missing base URL")
	}
}

func TestStatusPredicates(t *testing.T) {
	if !IsAuthStatus(401) || !IsAuthStatus(403) || IsAuthStatus(404) {
		t.Error("IsAuthStatus misclassifies")
	}
	if !IsGoneStatus(404) || !IsGoneStatus(410) || IsGoneStatus(500) {
		t.Error("IsGoneStatus misclassifies")
	}
}
