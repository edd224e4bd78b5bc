// Package tlsconfig loads and hot-reloads the TLS certificate an RTMPS or
// RTSPS listener presents, replacing the teacher's hand-rolled
// SslCertificateLoader (rtmp_ssl.go) with the library it was extracted
// into, github.com/AgustinSRG/go-tls-certificate-loader.
package tlsconfig

import (
	"crypto/tls"

	certloader "github.com/AgustinSRG/go-tls-certificate-loader"
)

// Loader wraps a certloader.CertificateLoader, the library the teacher's
// hand-rolled SslCertificateLoader (rtmp_ssl.go) was extracted into:
// load once, reload on a timer if the files on disk change, and hand back
// a GetCertificate func a tls.Config can call on every handshake.
type Loader struct {
	inner *certloader.CertificateLoader
}

// New loads certPath/keyPath once and starts checking for changes every
// checkReloadSeconds, the same constructor shape as the teacher's
// NewSslCertificateLoader (which also started its reload goroutine
// separately via RunReloadThread; the library starts it internally).
func New(certPath, keyPath string, checkReloadSeconds int) (*Loader, error) {
	inner, err := certloader.NewCertificateLoader(certPath, keyPath, checkReloadSeconds)
	if err != nil {
		return nil, err
	}
	return &Loader{inner: inner}, nil
}

// TLSConfig returns a *tls.Config whose GetCertificate always serves the
// most recently loaded keypair, the generalized form of the teacher's
// GetCertificateFunc wired directly into a listener's TLS config.
func (l *Loader) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: l.inner.GetCertificateFunc(),
	}
}
