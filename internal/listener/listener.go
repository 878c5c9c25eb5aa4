// Package listener serves an http.Handler over TCP, optionally with TLS and
// HTTP/3.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/wudi/hyperfast/config"
	"github.com/wudi/hyperfast/internal/acme"
	"go.uber.org/zap"
)

// Config holds configuration for creating a listener
type Config struct {
	Address           string
	Handler           http.Handler
	TLS               config.TLSConfig
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ReadHeaderTimeout time.Duration
	EnableHTTP3       bool
	// Refuse, when set and returning true, causes new connections to be
	// closed as soon as they are accepted.
	Refuse func() bool
	Logger *zap.Logger
}

// Listener wraps an HTTP server bound to one address
type Listener struct {
	address     string
	server      *http.Server
	tlsCfg      *tls.Config
	certPtr     atomic.Pointer[tls.Certificate] // for hot TLS cert reload
	acme        *acme.Manager
	http3Server *http3.Server
	udpConn     net.PacketConn
	refuse      func() bool
	log         *zap.Logger

	mu sync.Mutex
	ln net.Listener
}

// New creates a listener. Nothing is bound until Listen or Start.
func New(cfg Config) (*Listener, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	l := &Listener{
		address: cfg.Address,
		refuse:  cfg.Refuse,
		log:     log,
	}

	switch {
	case cfg.TLS.Enabled && cfg.TLS.ACME.Enabled:
		m, err := acme.New(cfg.TLS.ACME, log)
		if err != nil {
			return nil, err
		}
		l.acme = m
		l.tlsCfg = m.TLSConfig()

	case cfg.TLS.Enabled:
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		l.certPtr.Store(&cert)

		l.tlsCfg = &tls.Config{
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				return l.certPtr.Load(), nil
			},
			MinVersion: tls.VersionTLS12,
		}
	}

	// Apply defaults
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}
	maxHeaderBytes := cfg.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = 1 << 20 // 1MB
	}
	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 10 * time.Second
	}

	l.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           cfg.Handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		TLSConfig:         l.tlsCfg,
		ErrorLog:          zap.NewStdLog(log.Named("http")),
	}

	if cfg.EnableHTTP3 && l.tlsCfg != nil {
		l.http3Server = &http3.Server{
			Handler:   cfg.Handler,
			TLSConfig: http3.ConfigureTLSConfig(l.tlsCfg),
		}
	}

	return l, nil
}

// Listen binds the TCP socket (and the UDP socket for HTTP/3).
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}
	if l.acme != nil {
		if err := l.acme.Start(); err != nil {
			ln.Close()
			return err
		}
	}
	if l.refuse != nil {
		ln = &gatedListener{Listener: ln, refuse: l.refuse}
	}
	if l.tlsCfg != nil {
		ln = tls.NewListener(ln, l.tlsCfg)
	}

	if l.http3Server != nil {
		// Bind UDP on the port TCP actually got, so ":0" works for both
		udpConn, err := net.ListenPacket("udp", ln.Addr().String())
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen UDP for HTTP/3 on %s: %w", l.address, err)
		}
		l.udpConn = udpConn
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

// Serve blocks serving connections until the listener is stopped. It returns
// nil after a Stop or Close.
func (l *Listener) Serve() error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return errors.New("listener: Serve called before Listen")
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if l.http3Server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.http3Server.Serve(l.udpConn); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
				errCh <- fmt.Errorf("http3: %w", err)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

// Start binds and serves in the background, reporting immediate startup errors
func (l *Listener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := l.Serve(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully stops the listener, waiting for in-flight requests until
// ctx expires.
func (l *Listener) Stop(ctx context.Context) error {
	if l.acme != nil {
		l.acme.Stop(ctx)
	}
	if l.http3Server != nil {
		l.http3Server.Close()
	}
	if l.udpConn != nil {
		l.udpConn.Close()
	}
	return l.server.Shutdown(ctx)
}

// Close stops the listener immediately, dropping in-flight requests.
func (l *Listener) Close() error {
	if l.acme != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		l.acme.Stop(ctx)
		cancel()
	}
	if l.http3Server != nil {
		l.http3Server.Close()
	}
	if l.udpConn != nil {
		l.udpConn.Close()
	}
	return l.server.Close()
}

// Addr returns the bound address, or the configured one before Listen.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.address
}

// ReloadTLSCert hot-swaps the TLS certificate without restarting the listener.
func (l *Listener) ReloadTLSCert(certFile, keyFile string) error {
	if l.acme != nil {
		return errors.New("listener: certificates are managed by ACME")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	l.certPtr.Store(&cert)
	return nil
}

// ACME returns the certificate manager, or nil when certificates come from files.
func (l *Listener) ACME() *acme.Manager {
	return l.acme
}

// HTTP3Enabled returns whether HTTP/3 is served alongside TCP.
func (l *Listener) HTTP3Enabled() bool {
	return l.http3Server != nil
}

// Server returns the underlying HTTP server
func (l *Listener) Server() *http.Server {
	return l.server
}
