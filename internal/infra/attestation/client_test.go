package attestation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

func TestClientFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/attestations/0xdone":
			_, _ = w.Write([]byte(`{"attestation":"0xproof","status":"complete"}`))
		case "/v1/attestations/0xwait":
			_, _ = w.Write([]byte(`{"attestation":"PENDING","status":"pending_confirmations"}`))
		case "/v1/attestations/0xdown":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(provider.NewHTTPProvider("attestation", server.URL, 5*time.Second))
	ctx := context.Background()

	proof, err := c.Fetch(ctx, "0xdone")
	if err != nil || proof != "0xproof" {
		t.Fatalf("proof = %q, err = %v", proof, err)
	}
	if _, err := c.Fetch(ctx, "0xwait"); !errors.Is(err, ErrPending) {
		t.Fatalf("pending: err = %v", err)
	}
	if _, err := c.Fetch(ctx, "0xunknown"); !errors.Is(err, ErrPending) {
		t.Fatalf("404: err = %v", err)
	}
	if _, err := c.Fetch(ctx, "0xdown"); err == nil || errors.Is(err, ErrPending) {
		t.Fatalf("502: err = %v", err)
	}
	if _, err := c.Fetch(ctx, ""); err == nil {
		t.Fatal("expected validation error")
	}

	if _, ready, err := c.Lookup(ctx, "0xwait"); ready || err != nil {
		t.Fatalf("lookup pending: ready = %v, err = %v", ready, err)
	}
	if att, ready, err := c.Lookup(ctx, "0xdone"); !ready || err != nil || att != "0xproof" {
		t.Fatalf("lookup done: %q %v %v", att, ready, err)
	}
}
