package control

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// quicCertValidity is how long the server's self-signed certificate remains
// valid. The control plane never ships long enough for renewal to matter;
// this just needs to outlast any single process's lifetime.
const quicCertValidity = 365 * 24 * time.Hour

// generateTLSConfig creates a self-signed TLS certificate for the QUIC
// control-plane listener. QUIC requires TLS; the media plane carries no
// authentication is out of scope here, so a self-signed LAN-trust
// certificate (the same approach commonly used for a
// WebTransport listener) is sufficient here too.
func generateTLSConfig(hostname string, validity time.Duration) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("control: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("control: generate serial: %w", err)
	}

	cn := "aqua-sub000"
	if hostname != "" {
		cn = hostname
	}
	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:              time.Now().Add(-time.Hour),
		NotAfter:               time.Now().Add(validity),
		KeyUsage:               x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:            []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid:  true,
		IsCA:                   true,
		DNSNames:               sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("control: create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("control: parse certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
			Leaf:        cert,
		}},
		NextProtos: []string{"aqua-sub000"},
	}, nil
}

// insecureClientTLSConfig returns a client TLS config that trusts any
// server certificate. The media plane has no authentication requirement
// this is a LAN-trust dial config, not public CA validation.
func insecureClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"aqua-sub000"},
	}
}
