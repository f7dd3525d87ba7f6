package healthprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeSuccessOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := New()
	ok, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected 204 to count as success")
	}
}

func TestProbeFailureOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New()
	ok, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected 500 to count as failure")
	}
}

func TestWaitReadySucceedsAfterRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New()
	ok := p.WaitReady(context.Background(), srv.URL, 10*time.Second)
	if !ok {
		t.Fatal("expected wait-ready to eventually succeed")
	}
}

func TestWaitReadyFailsWhenNeverReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New()
	ok := p.WaitReady(context.Background(), srv.URL, 10*time.Second)
	if ok {
		t.Fatal("expected wait-ready to fail when the server never becomes ready")
	}
}
