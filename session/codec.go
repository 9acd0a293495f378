package session

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrCorrupt is returned when persisted bytes fail authentication, carry an
// unknown schema version, or do not decode. Callers must treat it exactly
// like an absent session.
var ErrCorrupt = errors.New("corrupt session")

const (
	stateFormatVersionCurrent = 1

	keyBytes   = 32
	saltBytes  = 16
	iterations = 120_000

	// DefaultPassphrase keys the codec when the caller supplies none. It is
	// public by definition and protects the session file only against casual
	// inspection, not against an attacker who can read this source. Supply a
	// real passphrase for anything beyond a single-user workstation.
	DefaultPassphrase = "monarch-session-default"
)

// Codec serializes a State for durable storage.
type Codec interface {
	Encode(s *State) ([]byte, error)
	Decode(data []byte) (*State, error)
}

// AESCodec seals the binary state encoding with AES-256-GCM under a
// PBKDF2-derived key (SHA-256, 120k iterations, random per-encode salt).
type AESCodec struct {
	passphrase string
}

// NewAESCodec returns a codec keyed by passphrase. An empty passphrase
// selects [DefaultPassphrase], which is documented as weak.
func NewAESCodec(passphrase string) *AESCodec {
	if passphrase == "" {
		passphrase = DefaultPassphrase
	}
	return &AESCodec{passphrase: passphrase}
}

// Encode seals s. Output layout: salt(16) | nonce(12) | GCM ciphertext.
func (c *AESCodec) Encode(s *State) ([]byte, error) {
	body, err := encodeBody(s)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	gcm, err := gcmForKey(c.passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltBytes+len(nonce)+len(body)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, body, nil), nil
}

// Decode opens data. Any tampering, truncation, wrong passphrase, or schema
// mismatch yields [ErrCorrupt]; a partially-valid State is never returned.
func (c *AESCodec) Decode(data []byte) (*State, error) {
	if len(data) < saltBytes+1 {
		return nil, ErrCorrupt
	}
	salt := data[:saltBytes]

	gcm, err := gcmForKey(c.passphrase, salt)
	if err != nil {
		return nil, err
	}
	if len(data) < saltBytes+gcm.NonceSize() {
		return nil, ErrCorrupt
	}
	nonce := data[saltBytes : saltBytes+gcm.NonceSize()]

	body, err := gcm.Open(nil, nonce, data[saltBytes+gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return decodeBody(body)
}

func gcmForKey(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keyBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// PlainCodec writes the state as readable JSON. It exposes the bearer token
// at rest and must be selected explicitly; nothing in this module falls back
// to it on its own.
type PlainCodec struct{}

type plainEnvelope struct {
	Version    int    `json:"version"`
	AuthToken  string `json:"authToken,omitempty"`
	CSRFToken  string `json:"csrfToken,omitempty"`
	DeviceID   string `json:"deviceUuid"`
	CreatedAt  int64  `json:"createdAt"`
	LastUsedAt int64  `json:"lastUsedAt"`
}

func (PlainCodec) Encode(s *State) ([]byte, error) {
	return json.Marshal(plainEnvelope{
		Version:    stateFormatVersionCurrent,
		AuthToken:  s.AuthToken,
		CSRFToken:  s.CSRFToken,
		DeviceID:   s.DeviceID,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
	})
}

func (PlainCodec) Decode(data []byte) (*State, error) {
	var env plainEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrCorrupt
	}
	if env.Version != stateFormatVersionCurrent {
		return nil, ErrCorrupt
	}
	return &State{
		AuthToken:  env.AuthToken,
		CSRFToken:  env.CSRFToken,
		DeviceID:   env.DeviceID,
		CreatedAt:  env.CreatedAt,
		LastUsedAt: env.LastUsedAt,
	}, nil
}

func encodeBody(s *State) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(stateFormatVersionCurrent)

	for _, field := range []string{s.AuthToken, s.CSRFToken, s.DeviceID} {
		if len(field) > 0xFFFF {
			return nil, errors.New("session field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.LastUsedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeBody(data []byte) (*State, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != stateFormatVersionCurrent {
		return nil, ErrCorrupt
	}

	s := &State{}
	for _, target := range []*string{&s.AuthToken, &s.CSRFToken, &s.DeviceID} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, ErrCorrupt
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, ErrCorrupt
		}
		*target = string(field)
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &s.LastUsedAt); err != nil {
		return nil, ErrCorrupt
	}
	if reader.Len() != 0 {
		return nil, ErrCorrupt
	}

	return s, nil
}
