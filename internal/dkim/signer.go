// Package dkim signs outbound campaign mail and manages signing keys.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"fmt"

	"github.com/emersion/go-msgauth/dkim"
)

// Signer adds a DKIM-Signature header to outbound messages. Sign options
// are fixed at construction; one signer serves a whole sending domain.
type Signer struct {
	domain   string
	selector string
	opts     *dkim.SignOptions
}

// NewSigner creates a signer for the given domain and selector.
func NewSigner(key *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{
		domain:   domain,
		selector: selector,
		opts: &dkim.SignOptions{
			Domain:                 domain,
			Selector:               selector,
			Signer:                 key,
			Hash:                   crypto.SHA256,
			HeaderCanonicalization: dkim.CanonicalizationRelaxed,
			BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		},
	}
}

// NewSignerFromFile loads a PEM private key and builds a signer from it.
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign returns message with a DKIM-Signature header prepended.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), s.opts); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

// Domain returns the signing domain.
func (s *Signer) Domain() string { return s.domain }

// Selector returns the DKIM selector.
func (s *Signer) Selector() string { return s.selector }
