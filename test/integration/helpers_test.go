//go:build integration

package integration_test

import (
	"bytes"
	"io"
	"net/netip"
	"testing"
)

// jsonReader wraps a JSON-encoded byte slice as an io.Reader for http.Post.
func jsonReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// mustParseAddr parses s as a netip.Addr, failing the test on error.
func mustParseAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	addr, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return addr
}
