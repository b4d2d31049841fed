// Package certutil loads the TLS material the Transport Facade needs to
// authenticate a peer and turns a loaded key into a libp2p identity.
package certutil

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p-core/crypto"
)

// FileFormat names the encoding of certificate/key material.
type FileFormat int

const (
	// FormatPEM is ASCII-armored, PEM-encoded material.
	FormatPEM FileFormat = iota
	// FormatDER is the raw binary encoding PEM wraps.
	FormatDER
)

// LoadPrivateKeyFile reads a private key from disk in PEM format and returns
// the corresponding libp2p key pair.
func LoadPrivateKeyFile(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certutil: reading private key file %s: %w", path, err)
	}
	return LoadPrivateKey(data, FormatPEM)
}

// LoadPrivateKey converts PEM- or DER-encoded private key bytes into a
// libp2p private key, by first recovering one of the standard library key
// types (RSA, ECDSA, Ed25519) and wrapping it with crypto.KeyPairFromStdKey.
func LoadPrivateKey(data []byte, format FileFormat) (crypto.PrivKey, error) {
	der := data
	if format == FormatPEM {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("certutil: no PEM block found in private key data")
		}
		der = block.Bytes
	}

	stdKey, err := parseStdPrivateKey(der)
	if err != nil {
		return nil, err
	}

	priv, _, err := crypto.KeyPairFromStdKey(stdKey)
	if err != nil {
		return nil, fmt.Errorf("certutil: wrapping standard key as libp2p key: %w", err)
	}
	return priv, nil
}

func parseStdPrivateKey(der []byte) (interface{}, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("certutil: unrecognized private key encoding")
}

// LoadCertificateChainFile reads a PEM certificate chain from disk.
func LoadCertificateChainFile(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certutil: reading certificate file %s: %w", path, err)
	}
	return LoadCertificateChain(data, FormatPEM)
}

// LoadCertificateChain splits a PEM or single DER certificate blob into its
// constituent DER-encoded certificates.
func LoadCertificateChain(data []byte, format FileFormat) ([][]byte, error) {
	if format == FormatDER {
		if _, err := x509.ParseCertificate(data); err != nil {
			return nil, fmt.Errorf("certutil: parsing DER certificate: %w", err)
		}
		return [][]byte{data}, nil
	}

	var chain [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		chain = append(chain, block.Bytes)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("certutil: no certificates found in PEM data")
	}
	return chain, nil
}

// LoadCACertificateFiles loads a list of PEM CA certificate file paths into
// an x509.CertPool, used for the incoming/outgoing trust sets.
func LoadCACertificateFiles(paths []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("certutil: reading CA file %s: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("certutil: no certificates parsed from %s", path)
		}
	}
	return pool, nil
}

// PublicKeyFromCertificate extracts the public key embedded in an X.509
// certificate, used to derive a remote PeerIdentity from its certificate.
func PublicKeyFromCertificate(der []byte) (crypto.PubKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certutil: parsing certificate: %w", err)
	}
	var stdPub interface{}
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		stdPub = pub
	case *ecdsa.PublicKey:
		stdPub = pub
	case ed25519.PublicKey:
		stdPub = pub
	default:
		return nil, fmt.Errorf("certutil: unsupported certificate public key type %T", cert.PublicKey)
	}
	pub, err := crypto.PublicKeyFromStdKey(stdPub)
	if err != nil {
		return nil, fmt.Errorf("certutil: wrapping certificate public key: %w", err)
	}
	return pub, nil
}
