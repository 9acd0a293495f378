package session

import (
	"errors"
	"testing"
)

func sampleState() *State {
	return &State{
		AuthToken:  "c2e9fa5c6d7e8f90token",
		CSRFToken:  "csrf-abc123",
		DeviceID:   "7b2a4e9c-3f1d-4a88-9c55-1d2e3f4a5b6c",
		CreatedAt:  1700000000,
		LastUsedAt: 1700000360,
	}
}

func TestAESCodecRoundTrip(t *testing.T) {
	codec := NewAESCodec("hunter2-passphrase")
	want := sampleState()

	blob, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	got, err := codec.Decode(blob)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestAESCodecWrongPassphrase(t *testing.T) {
	blob, err := NewAESCodec("correct").Encode(sampleState())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := NewAESCodec("incorrect").Decode(blob); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for wrong passphrase, got %v", err)
	}
}

func TestAESCodecTamperedCiphertext(t *testing.T) {
	codec := NewAESCodec("hunter2-passphrase")
	blob, err := codec.Encode(sampleState())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// Flip one bit anywhere past the salt; GCM must reject it.
	blob[len(blob)-1] ^= 0x01
	if _, err := codec.Decode(blob); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for tampered blob, got %v", err)
	}
}

func TestAESCodecTruncated(t *testing.T) {
	codec := NewAESCodec("")
	for _, n := range []int{0, 1, saltBytes, saltBytes + 5} {
		if _, err := codec.Decode(make([]byte, n)); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt for %d-byte blob, got %v", n, err)
		}
	}
}

func TestAESCodecDefaultPassphrase(t *testing.T) {
	blob, err := NewAESCodec("").Encode(sampleState())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := NewAESCodec(DefaultPassphrase).Decode(blob); err != nil {
		t.Fatalf("default passphrase decode failed: %v", err)
	}
}

func TestPlainCodecRoundTrip(t *testing.T) {
	var codec PlainCodec
	want := sampleState()

	blob, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	got, err := codec.Decode(blob)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestPlainCodecRejectsGarbage(t *testing.T) {
	var codec PlainCodec
	if _, err := codec.Decode([]byte("not json")); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if _, err := codec.Decode([]byte(`{"version":99}`)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for unknown version, got %v", err)
	}
}

func TestDecodeBodyRejectsTrailingBytes(t *testing.T) {
	body, err := encodeBody(sampleState())
	if err != nil {
		t.Fatalf("encodeBody failed: %v", err)
	}
	if _, err := decodeBody(append(body, 0x00)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for trailing bytes, got %v", err)
	}
}
