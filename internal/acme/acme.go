// Package acme provisions listener certificates through an ACME CA with
// golang.org/x/crypto/acme/autocert.
package acme

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/wudi/hyperfast/config"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// Challenge types.
const (
	ChallengeTLSALPN = "tls-alpn-01"
	ChallengeHTTP    = "http-01"
)

// DefaultCacheDir stores issued certificates between restarts.
const DefaultCacheDir = "/var/cache/hyperfast/acme"

// CertInfo describes the certificate most recently served.
type CertInfo struct {
	Domains   []string  `json:"domains"`
	Issuer    string    `json:"issuer"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	DaysLeft  int       `json:"days_left"`
	Serial    string    `json:"serial"`
}

// Manager wraps autocert.Manager and tracks the served certificate.
type Manager struct {
	certs       *autocert.Manager
	challenge   string
	httpAddress string
	domains     []string
	log         *zap.Logger

	httpServer *http.Server

	mu   sync.RWMutex
	info CertInfo
}

// New creates a Manager from cfg.
func New(cfg config.ACMEConfig, log *zap.Logger) (*Manager, error) {
	if len(cfg.Domains) == 0 {
		return nil, errors.New("acme: at least one domain is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir
	}
	challenge := cfg.ChallengeType
	if challenge == "" {
		challenge = ChallengeTLSALPN
	}
	httpAddress := cfg.HTTPAddress
	if httpAddress == "" {
		httpAddress = ":80"
	}

	certs := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(cacheDir),
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
		Email:      cfg.Email,
	}
	if cfg.DirectoryURL != "" && cfg.DirectoryURL != autocert.DefaultACMEDirectory {
		certs.Client = &acme.Client{DirectoryURL: cfg.DirectoryURL}
	}

	return &Manager{
		certs:       certs,
		challenge:   challenge,
		httpAddress: httpAddress,
		domains:     cfg.Domains,
		log:         log.Named("acme"),
		info:        CertInfo{Domains: cfg.Domains, DaysLeft: -1},
	}, nil
}

// TLSConfig returns a TLS config that obtains certificates on demand and
// answers tls-alpn-01 challenges.
func (m *Manager) TLSConfig() *tls.Config {
	cfg := m.certs.TLSConfig()
	cfg.MinVersion = tls.VersionTLS12

	get := cfg.GetCertificate
	cfg.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := get(hello)
		if err != nil {
			m.log.Warn("certificate unavailable", zap.String("server_name", hello.ServerName), zap.Error(err))
			return nil, err
		}
		m.observe(cert)
		return cert, nil
	}
	return cfg
}

// Start serves http-01 challenges on the configured HTTP address. It is a
// no-op for tls-alpn-01.
func (m *Manager) Start() error {
	if m.challenge != ChallengeHTTP {
		return nil
	}
	ln, err := net.Listen("tcp", m.httpAddress)
	if err != nil {
		return fmt.Errorf("acme: listening for http-01 on %s: %w", m.httpAddress, err)
	}
	m.httpServer = &http.Server{
		Handler:           m.certs.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := m.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("http-01 challenge server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts down the http-01 challenge server if running.
func (m *Manager) Stop(ctx context.Context) error {
	if m.httpServer == nil {
		return nil
	}
	return m.httpServer.Shutdown(ctx)
}

// CertStatus returns a copy of the current certificate metadata.
func (m *Manager) CertStatus() CertInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// Domains returns the configured host whitelist.
func (m *Manager) Domains() []string {
	return m.domains
}

func (m *Manager) observe(cert *tls.Certificate) {
	if cert == nil {
		return
	}
	leaf := cert.Leaf
	if leaf == nil && len(cert.Certificate) > 0 {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return
		}
		leaf = parsed
	}
	if leaf != nil {
		m.record(leaf)
	}
}

func (m *Manager) record(leaf *x509.Certificate) {
	info := CertInfo{
		Domains:   leaf.DNSNames,
		Issuer:    leaf.Issuer.CommonName,
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
		DaysLeft:  int(time.Until(leaf.NotAfter).Hours() / 24),
		Serial:    hexSerial(leaf.SerialNumber),
	}
	m.mu.Lock()
	m.info = info
	m.mu.Unlock()
}

func hexSerial(serial *big.Int) string {
	if serial == nil {
		return ""
	}
	return fmt.Sprintf("%X", serial)
}
