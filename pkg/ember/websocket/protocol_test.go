package websocket

import "testing"

func TestComputeAcceptKeyMatchesRFCExample(t *testing.T) {
	// RFC 6455 Section 1.3's worked example.
	got := ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("ComputeAcceptKey: got %q, want %q", got, want)
	}
}

func TestMaskBytesRoundTrips(t *testing.T) {
	key := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}
	data := []byte("round trip me please")
	original := append([]byte(nil), data...)

	maskBytes(data, key)
	if string(data) == string(original) {
		t.Fatal("masking did not change the data")
	}
	maskBytes(data, key)
	if string(data) != string(original) {
		t.Fatal("masking twice with the same key did not round-trip")
	}
}

func TestIsValidCloseCode(t *testing.T) {
	cases := []struct {
		code uint16
		want bool
	}{
		{1000, true},
		{1011, true},
		{1004, false},
		{1005, false},
		{1006, false},
		{1015, false},
		{3500, true},
		{4999, true},
		{5000, false},
		{2999, false},
	}
	for _, c := range cases {
		if got := isValidCloseCode(c.code); got != c.want {
			t.Errorf("isValidCloseCode(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}
