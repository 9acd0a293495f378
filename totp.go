package monarch

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	totpPeriodSeconds = 30
	totpDigits        = 6
)

// totpGenerator computes RFC 6238 codes from a caller-supplied shared
// secret, so an MFA login can complete without user interaction. The remote
// service uses the standard parameters: HMAC-SHA1, 30-second step, 6 digits.
type totpGenerator struct{}

// Code returns the TOTP value for the secret at now. The secret is base32
// (spaces and case tolerated, padding optional), as issued by the service's
// authenticator-app enrollment.
func (totpGenerator) Code(secret string, now time.Time) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	normalized = strings.TrimRight(normalized, "=")
	if normalized == "" {
		return "", errors.New("empty totp secret")
	}

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return "", errors.New("totp secret is not valid base32")
	}

	counter := now.Unix() / totpPeriodSeconds
	return hotpCode(key, counter, totpDigits), nil
}

func hotpCode(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod)
}
