// SPDX-License-Identifier: MIT

package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrLocatorExpired is returned when a locator's expiry lies in the past.
	ErrLocatorExpired = errors.New("locator expired")
	// ErrLocatorSignature is returned when a locator's signature does not
	// match the key and expiry.
	ErrLocatorSignature = errors.New("locator signature mismatch")
)

// Locator issues a signed, time-limited access path for key, served by the
// HTTP layer under /object/{key}.
func (s *FS) Locator(key string, ttl time.Duration) (string, error) {
	if !s.Exists(key) {
		return "", fmt.Errorf("no object under key %q", key)
	}
	exp := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	sig := s.sign(sanitizeKey(key), exp)
	return fmt.Sprintf("/object/%s?exp=%s&sig=%s", url.PathEscape(sanitizeKey(key)), exp, sig), nil
}

// VerifyLocator checks expiry and signature of locator query fields.
func (s *FS) VerifyLocator(key, exp, sig string) error {
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrLocatorSignature
	}
	want := s.sign(sanitizeKey(key), exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrLocatorSignature
	}
	if time.Now().Unix() > expUnix {
		return ErrLocatorExpired
	}
	return nil
}

func (s *FS) sign(key, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'|'})
	mac.Write([]byte(exp))
	return hex.EncodeToString(mac.Sum(nil))
}
