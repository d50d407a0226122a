package pools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/conductor/internal/infra/rpc/provider"
)

func TestClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pools":
			_, _ = w.Write([]byte(`[{"id":"USDCx-STX","asset_a":"USDCx","asset_b":"STX"}]`))
		case "/pools/USDCx-STX":
			_, _ = w.Write([]byte(`{"pool_id":"USDCx-STX","asset_a":"USDCx","asset_b":"STX","fee_bps":30}`))
		case "/pools/USDCx-STX/reserves":
			_, _ = w.Write([]byte(`{"pool_id":"USDCx-STX","reserve_a":"1000.5","reserve_b":"400"}`))
		case "/pools/USDCx-STX/analytics":
			_, _ = w.Write([]byte(`{"pool_id":"USDCx-STX","tvl":"2001"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(provider.NewHTTPProvider("pools", server.URL, 5*time.Second))
	ctx := context.Background()

	all, err := c.GetAllPools(ctx)
	if err != nil || len(all) != 1 || all[0].AssetB != "STX" {
		t.Fatalf("pools = %+v, err = %v", all, err)
	}
	meta, err := c.GetPoolMetadata(ctx, "USDCx-STX")
	if err != nil || meta == nil || meta.FeeBps != 30 {
		t.Fatalf("meta = %+v, err = %v", meta, err)
	}
	missing, err := c.GetPoolMetadata(ctx, "ALEX-STX")
	if err != nil || missing != nil {
		t.Fatalf("missing = %+v, err = %v", missing, err)
	}
	res, err := c.GetPoolReserves(ctx, "USDCx-STX")
	if err != nil || res.ReserveA.String() != "1000.5" {
		t.Fatalf("reserves = %+v, err = %v", res, err)
	}
	an, err := c.GetPoolAnalytics(ctx, "USDCx-STX")
	if err != nil || an.TVL.IntPart() != 2001 {
		t.Fatalf("analytics = %+v, err = %v", an, err)
	}
	if _, err := c.GetPoolReserves(ctx, "ALEX-STX"); err == nil {
		t.Fatal("expected error for unknown pool reserves")
	}
}
