package workspace

import (
	"crypto/tls"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// CertificateType discriminates the supported client certificate encodings.
type CertificateType string

const (
	// CertPKCS12 is a DER-encoded PKCS#12 archive plus password.
	CertPKCS12 CertificateType = "PKCS12"
	// CertPKCS8PEM is a PEM certificate with a separate PEM private key.
	CertPKCS8PEM CertificateType = "PKCS8_PEM"
	// CertPEM is a single PEM blob carrying both certificate and key.
	CertPEM CertificateType = "PEM"
)

// Certificate is a client TLS identity attached to dispatched requests.
type Certificate struct {
	ID   string          `json:"id" yaml:"id"`
	Name string          `json:"name" yaml:"name"`
	Type CertificateType `json:"type" yaml:"type"`

	Der      []byte `json:"der,omitempty" yaml:"der,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Pem      string `json:"pem,omitempty" yaml:"pem,omitempty"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
}

func (c *Certificate) GetID() string    { return c.ID }
func (c *Certificate) GetName() string  { return c.Name }
func (c *Certificate) GetTitle() string { return titleOf(c.ID, c.Name) }

// TLSCertificate materializes the stored identity into a certificate that
// can be attached to a TLS client configuration.
func (c *Certificate) TLSCertificate() (tls.Certificate, error) {
	switch c.Type {
	case CertPKCS12:
		key, cert, err := pkcs12.Decode(c.Der, c.Password)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to decode PKCS#12 certificate: %w", err)
		}
		return tls.Certificate{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  key,
			Leaf:        cert,
		}, nil
	case CertPKCS8PEM:
		pair, err := tls.X509KeyPair([]byte(c.Pem), []byte(c.Key))
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to load PEM certificate/key pair: %w", err)
		}
		return pair, nil
	case CertPEM:
		pair, err := tls.X509KeyPair([]byte(c.Pem), []byte(c.Pem))
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to load PEM certificate: %w", err)
		}
		return pair, nil
	default:
		return tls.Certificate{}, fmt.Errorf("unknown certificate type %q", c.Type)
	}
}
