package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should be a no-op, got: %v", err)
	}
}

func TestHelpersNoOpBeforeRegister(t *testing.T) {
	regOK.Store(false)
	// Should not panic even though no registry has been wired yet.
	IncStart("api")
	IncRestart("api", "crash")
	SetResourceSample("api", 12.5, 1024)
}
