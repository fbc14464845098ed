package gateway

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// selfSignedServerCert generates an ephemeral self-signed TLS certificate
// for the device server. Authentication is by shared password, not PKI,
// so the certificate exists only to establish an encrypted channel; it
// is regenerated fresh on every process start and never persisted.
func selfSignedServerCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate server key: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "iot-gateway"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create server certificate: %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// serverCipherSuites is the subset of the
// "EECDH+AESGCM:EDH+AESGCM:AES256+EECDH:AES256+EDH" policy expressed as
// Go cipher suite IDs: the ECDHE AES-GCM suites only. No DHE (EDH) suite
// and no CBC suite is offered.
// TLS 1.3 suites are not listed here; Go always offers them regardless
// of CipherSuites since the field only constrains <=TLS1.2 negotiation.
var serverCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
}

// newServerTLSConfig builds the TLS server context: serverCipherSuites
// for TLS 1.2 negotiation and a TLS 1.2 minimum version.
func newServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: serverCipherSuites,
	}
}
