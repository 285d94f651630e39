package exchange

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

// Key pair and signature taken from the exchange's public API documentation.
const (
	docsAPIKey = "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A"
	docsSecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
)

func TestSignatureMatchesDocsVector(t *testing.T) {
	t.Parallel()

	s := NewSigner(docsAPIKey, docsSecret)
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := s.signature(payload); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
}

func TestSignAppendsTrailingSignature(t *testing.T) {
	t.Parallel()

	s := NewSigner(docsAPIKey, docsSecret)
	s.now = func() time.Time { return time.UnixMilli(1499827319559) }

	params := url.Values{}
	params.Set("symbol", "LTCBTC")
	params.Set("side", "BUY")
	signed := s.Sign(params)

	base, sig, found := strings.Cut(signed, "&signature=")
	if !found {
		t.Fatalf("signed query has no trailing signature: %s", signed)
	}
	if got := s.signature(base); got != sig {
		t.Errorf("signature %s does not cover the preceding query %q", sig, base)
	}
	for _, param := range []string{"timestamp=1499827319559", "recvWindow=5000", "symbol=LTCBTC", "side=BUY"} {
		if !strings.Contains(base, param) {
			t.Errorf("signed query missing %q: %s", param, base)
		}
	}
}

func TestSignHandlesNilParams(t *testing.T) {
	t.Parallel()

	s := NewSigner(docsAPIKey, docsSecret)
	signed := s.Sign(nil)
	if !strings.Contains(signed, "timestamp=") || !strings.Contains(signed, "&signature=") {
		t.Errorf("nil params must still produce a stamped, signed query: %s", signed)
	}
}

func TestAPIKeyHeaderValue(t *testing.T) {
	t.Parallel()

	s := NewSigner(docsAPIKey, docsSecret)
	if got := s.APIKey(); got != docsAPIKey {
		t.Errorf("APIKey() = %s, want the configured key", got)
	}
}
