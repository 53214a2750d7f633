// Package signing implements the stateless HMAC scheme that grants
// time-boxed read access to a derivative path without an auth header.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrUnsigned means neither sig nor exp was supplied. Callers fall back
	// to their regular authentication.
	ErrUnsigned = errors.New("request is not signed")
	// ErrMalformed means only one of sig/exp was supplied or exp is not a
	// unix timestamp.
	ErrMalformed = errors.New("malformed signature parameters")
	// ErrExpired means exp lies in the past.
	ErrExpired = errors.New("signature expired")
	// ErrInvalidSignature means the MAC does not match path and exp.
	ErrInvalidSignature = errors.New("invalid signature")
)

// SignedURL holds the components of a signed derivative URL.
type SignedURL struct {
	Path string
	Sig  string
	Exp  int64
}

// Query returns the sig/exp query parameters.
func (u SignedURL) Query() url.Values {
	return url.Values{"sig": {u.Sig}, "exp": {strconv.FormatInt(u.Exp, 10)}}
}

// URL renders base + "/" + path with the signature query appended.
func (u SignedURL) URL(base string) string {
	return base + "/" + (&url.URL{Path: u.Path}).EscapedPath() + "?" + u.Query().Encode()
}

// Signer generates and validates HMAC based signatures. Expiries are
// quantized to the window so every URL minted for a path within one window
// is byte-identical.
type Signer struct {
	secret []byte
	window int64
}

// NewSigner creates a Signer. Windows below one second are raised to one.
func NewSigner(secret []byte, window time.Duration) *Signer {
	w := int64(window / time.Second)
	if w < 1 {
		w = 1
	}
	return &Signer{secret: secret, window: w}
}

// Sign signs path for the current window.
func (s *Signer) Sign(path string) SignedURL {
	return s.SignAt(path, time.Now())
}

// SignAt signs path as if the current time were now. The expiry is the start
// of now's window plus two windows, so a URL stays valid for between one and
// two windows.
func (s *Signer) SignAt(path string, now time.Time) SignedURL {
	exp := (now.Unix()/s.window)*s.window + 2*s.window
	return SignedURL{Path: path, Sig: s.mac(path, exp), Exp: exp}
}

// Verify checks sig and exp (raw query values) for path at time now.
func (s *Signer) Verify(path, sig, exp string, now time.Time) error {
	switch {
	case sig == "" && exp == "":
		return ErrUnsigned
	case sig == "" || exp == "":
		return ErrMalformed
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrMalformed
	}
	if now.Unix() > expUnix {
		return ErrExpired
	}
	if !hmac.Equal([]byte(s.mac(path, expUnix)), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Signer) mac(path string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(path + ":" + strconv.FormatInt(exp, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
