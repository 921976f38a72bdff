package dkim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const keyBits = 2048

// KeyPair is a generated DKIM signing key together with the DNS identity
// it publishes under.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	Domain     string
	Selector   string
}

// GenerateKey creates a fresh RSA signing key for domain/selector.
func GenerateKey(domain, selector string) (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{PrivateKey: key, Domain: domain, Selector: selector}, nil
}

// SavePrivateKey writes the private key to path as PKCS#1 PEM, mode 0600.
func (kp *KeyPair) SavePrivateKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.PrivateKey),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// DNSName returns the TXT record name, selector._domainkey.domain.
func (kp *KeyPair) DNSName() string {
	return fmt.Sprintf("%s._domainkey.%s", kp.Selector, kp.Domain)
}

// DNSRecord returns the TXT record value publishing the public key.
func (kp *KeyPair) DNSRecord() string {
	pub, err := x509.MarshalPKIXPublicKey(&kp.PrivateKey.PublicKey)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("v=DKIM1; k=rsa; p=%s", base64.StdEncoding.EncodeToString(pub))
}

// LoadPrivateKey reads an RSA private key from a PEM file. Both PKCS#1
// and PKCS#8 encodings are accepted.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key in %s is not RSA", path)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", block.Type)
	}
}
