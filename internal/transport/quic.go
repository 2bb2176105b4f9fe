package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPNProtocol identifies the filegate session protocol over QUIC.
	ALPNProtocol = "filegate-v1"

	udpBufferSize = 4 * 1024 * 1024
	closeLinger   = 500 * time.Millisecond
)

// ServerTLSConfig loads certFile and keyFile, or generates a self-signed
// certificate when both are empty.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case certFile == "" && keyFile == "":
		cert, err = generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
	case certFile == "" || keyFile == "":
		return nil, fmt.Errorf("both certificate and key files are required")
	default:
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig returns a TLS configuration that accepts any server
// certificate. QUIC needs TLS; sessions are not authenticated.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             1,
		MaxIncomingUniStreams:          -1,
		InitialStreamReceiveWindow:     1 * 1024 * 1024,
		MaxStreamReceiveWindow:         16 * 1024 * 1024,
		InitialConnectionReceiveWindow: 2 * 1024 * 1024,
		MaxConnectionReceiveWindow:     32 * 1024 * 1024,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"filegate"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// QUICListener accepts QUIC connections. Each connection carries one session
// on the first bidirectional stream the client opens.
type QUICListener struct {
	udp    *net.UDPConn
	ln     *quic.Listener
	closed atomic.Bool
}

// ListenQUIC binds a UDP socket on addr and serves QUIC on it.
func ListenQUIC(addr string, tlsConf *tls.Config) (*QUICListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	// small kernel limits only cost throughput
	_ = udp.SetReadBuffer(udpBufferSize)
	_ = udp.SetWriteBuffer(udpBufferSize)

	ln, err := quic.Listen(udp, tlsConf, defaultQUICConfig())
	if err != nil {
		udp.Close()
		return nil, fmt.Errorf("failed to start QUIC listener: %w", err)
	}
	return &QUICListener{udp: udp, ln: ln}, nil
}

// Accept waits for the next QUIC connection. The session stream is accepted
// lazily on the first Read or Write, so a slow client cannot stall Accept.
func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	c, err := l.ln.Accept(ctx)
	if err != nil {
		if l.closed.Load() {
			return nil, net.ErrClosed
		}
		return nil, err
	}
	return &quicConn{conn: c, accept: true}, nil
}

func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

func (l *QUICListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	err := l.ln.Close()
	if uerr := l.udp.Close(); err == nil {
		err = uerr
	}
	return err
}

func (l *QUICListener) Name() string { return NameQUIC }

// DialQUIC opens a QUIC connection and its session stream.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (Conn, error) {
	c, err := quic.DialAddr(ctx, addr, tlsConf, defaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	stream, err := c.OpenStreamSync(ctx)
	if err != nil {
		c.CloseWithError(0, "")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return &quicConn{conn: c, stream: stream}, nil
}

// quicConn adapts a QUIC connection and one of its streams to Conn.
type quicConn struct {
	conn   *quic.Conn
	accept bool

	acceptOnce sync.Once
	acceptErr  error

	mu     sync.Mutex
	stream *quic.Stream
	closed bool
}

func (c *quicConn) sessionStream() (*quic.Stream, error) {
	if c.accept {
		c.acceptOnce.Do(func() {
			s, err := c.conn.AcceptStream(c.conn.Context())
			c.mu.Lock()
			c.stream, c.acceptErr = s, err
			c.mu.Unlock()
		})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acceptErr != nil {
		return nil, c.acceptErr
	}
	if c.stream == nil {
		return nil, net.ErrClosed
	}
	return c.stream, nil
}

func (c *quicConn) Read(p []byte) (int, error) {
	s, err := c.sessionStream()
	if err != nil {
		return 0, err
	}
	return s.Read(p)
}

func (c *quicConn) Write(p []byte) (int, error) {
	s, err := c.sessionStream()
	if err != nil {
		return 0, err
	}
	return s.Write(p)
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close sends FIN on the stream and closes the connection. The accepting side
// lingers briefly so the final reply is delivered before CONNECTION_CLOSE.
func (c *quicConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream := c.stream
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
		if c.accept {
			select {
			case <-c.conn.Context().Done():
			case <-time.After(closeLinger):
			}
		}
	}
	return c.conn.CloseWithError(0, "")
}
