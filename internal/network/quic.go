package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	quic "github.com/quic-go/quic-go"
	"golang.org/x/crypto/sha3"
)

const (
	alpn              = "mcdist-gtp"
	defaultQUICSeed   = "mcdist-quic-dev-key"
	connLimitLogEvery = 10 * time.Second
	quicKeepAlive     = 10 * time.Second
	quicIdleTimeout   = 2 * time.Minute
	dialRetries       = 5
	dialBackoffBase   = 200 * time.Millisecond
	dialBackoffMax    = 5 * time.Second
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func quicSeed() string {
	if s := strings.TrimSpace(os.Getenv("MCDIST_QUIC_SEED")); s != "" {
		return s
	}
	return defaultQUICSeed
}

// devTLSCert derives a self signed certificate from MCDIST_QUIC_SEED, so
// coordinator and bridges sharing the seed can pin it.
func devTLSCert() (tls.Certificate, []byte, error) {
	seed := sha3.Sum256([]byte(quicSeed()))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, der, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, _, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}, nil
}

func clientTLSConfig(insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpn}}, nil
	}
	_, der, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		NextProtos: []string{alpn},
	}, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: quicKeepAlive,
		MaxIdleTimeout:  quicIdleTimeout,
	}
}

// streamConn is one QUIC connection carrying a single bidirectional stream.
type streamConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *streamConn) Close() error {
	err := c.Stream.Close()
	_ = c.conn.CloseWithError(0, "")
	return err
}

type quicListener struct {
	ln     *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
}

func listenQUIC(addr string) (*quicListener, error) {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &quicListener{ln: ln, ctx: ctx, cancel: cancel}, nil
}

// Accept waits for a connection and opens its stream. The coordinator
// speaks first, so the peer sees the stream with the identity probe.
func (l *quicListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return nil, net.ErrClosed
			}
			return nil, err
		}
		stream, err := conn.OpenStreamSync(l.ctx)
		if err != nil {
			_ = conn.CloseWithError(1, "no stream")
			if l.ctx.Err() != nil {
				return nil, net.ErrClosed
			}
			continue
		}
		return &streamConn{Stream: stream, conn: conn}, nil
	}
}

func (l *quicListener) Close() error {
	l.cancel()
	return l.ln.Close()
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

// DialQUIC connects to a coordinator QUIC listener and waits for the
// stream it opens. Dial failures are retried with exponential backoff.
func DialQUIC(ctx context.Context, addr string, insecure bool) (net.Conn, error) {
	if addr == "" {
		return nil, errors.New("missing addr")
	}
	tlsConf, err := clientTLSConfig(insecure)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < dialRetries; attempt++ {
		if attempt > 0 && !backoffRetry(ctx, attempt) {
			break
		}
		conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
		if err != nil {
			lastErr = err
			continue
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			_ = conn.CloseWithError(1, "no stream")
			lastErr = err
			continue
		}
		return &streamConn{Stream: stream, conn: conn}, nil
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("dial quic %s: %w", addr, lastErr)
}

func backoffRetry(ctx context.Context, failures int) bool {
	d := dialBackoffBase << (failures - 1)
	if d > dialBackoffMax || d <= 0 {
		d = dialBackoffMax
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
