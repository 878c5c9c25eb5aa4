package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"slices"
	"testing"
	"time"

	"github.com/wudi/hyperfast/config"
	"golang.org/x/crypto/acme"
)

func newManager(t *testing.T, cfg config.ACMEConfig) *Manager {
	t.Helper()
	cfg.Enabled = true
	if cfg.Domains == nil {
		cfg.Domains = []string{"example.com"}
	}
	cfg.CacheDir = t.TempDir()
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewDefaults(t *testing.T) {
	m := newManager(t, config.ACMEConfig{Email: "ops@example.com"})

	if m.challenge != ChallengeTLSALPN {
		t.Errorf("challenge = %q, want %q", m.challenge, ChallengeTLSALPN)
	}
	if m.httpAddress != ":80" {
		t.Errorf("httpAddress = %q, want :80", m.httpAddress)
	}
	if m.certs.Client != nil {
		t.Error("Client should be nil for the default directory")
	}
	if m.certs.Email != "ops@example.com" {
		t.Errorf("Email = %q", m.certs.Email)
	}
}

func TestNewCustomDirectory(t *testing.T) {
	staging := "https://acme-staging-v02.api.letsencrypt.org/directory"
	m := newManager(t, config.ACMEConfig{DirectoryURL: staging})

	if m.certs.Client == nil || m.certs.Client.DirectoryURL != staging {
		t.Errorf("Client = %+v, want directory %q", m.certs.Client, staging)
	}
}

func TestNewRequiresDomains(t *testing.T) {
	if _, err := New(config.ACMEConfig{Enabled: true}, nil); err == nil {
		t.Error("expected error without domains")
	}
}

func TestHostPolicy(t *testing.T) {
	m := newManager(t, config.ACMEConfig{Domains: []string{"api.example.com"}})

	if err := m.certs.HostPolicy(context.Background(), "api.example.com"); err != nil {
		t.Errorf("whitelisted host rejected: %v", err)
	}
	if err := m.certs.HostPolicy(context.Background(), "evil.example.net"); err == nil {
		t.Error("unlisted host accepted")
	}
}

func TestTLSConfig(t *testing.T) {
	cfg := newManager(t, config.ACMEConfig{}).TLSConfig()

	if cfg.GetCertificate == nil {
		t.Error("GetCertificate should be set")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %#x, want TLS 1.2", cfg.MinVersion)
	}
	if !slices.Contains(cfg.NextProtos, acme.ALPNProto) {
		t.Errorf("NextProtos = %v, want %q", cfg.NextProtos, acme.ALPNProto)
	}
}

func TestCertStatus(t *testing.T) {
	m := newManager(t, config.ACMEConfig{})

	if info := m.CertStatus(); info.DaysLeft != -1 || !slices.Equal(info.Domains, []string{"example.com"}) {
		t.Errorf("initial CertStatus = %+v", info)
	}

	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(12345),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		DNSNames:     []string{"example.com", "www.example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	m.observe(&tls.Certificate{Certificate: [][]byte{der}})

	info := m.CertStatus()
	if info.Issuer != "example.com" {
		t.Errorf("Issuer = %q, want example.com", info.Issuer)
	}
	if len(info.Domains) != 2 {
		t.Errorf("Domains = %v", info.Domains)
	}
	if info.DaysLeft < 89 || info.DaysLeft > 90 {
		t.Errorf("DaysLeft = %d, want about 90", info.DaysLeft)
	}
	if info.Serial != "3039" {
		t.Errorf("Serial = %q, want 3039", info.Serial)
	}
}

func TestStartTLSALPNIsNoop(t *testing.T) {
	m := newManager(t, config.ACMEConfig{})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.httpServer != nil {
		t.Error("no challenge server expected for tls-alpn-01")
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestStartHTTPChallenge(t *testing.T) {
	m := newManager(t, config.ACMEConfig{ChallengeType: ChallengeHTTP, HTTPAddress: "127.0.0.1:0"})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	if m.httpServer == nil {
		t.Fatal("challenge server not started")
	}
	if m.httpServer.Handler == nil {
		t.Error("challenge server has no handler")
	}
}

func TestHexSerial(t *testing.T) {
	tests := []struct {
		in   *big.Int
		want string
	}{
		{big.NewInt(255), "FF"},
		{big.NewInt(0), "0"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := hexSerial(tt.in); got != tt.want {
			t.Errorf("hexSerial(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
