package protocol

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

// alpnProtocol is the ALPN token both sides must agree on.
const alpnProtocol = "driftsync-quic"

var _ Transport = (*QuicTransport)(nil)

// QuicTransport carries frames over QUIC, one bidirectional stream per frame
// exchange. TLSConfig may be nil: the listener then generates a self-signed
// certificate and the dialer skips verification, which is only suitable for
// development.
type QuicTransport struct {
	TLSConfig *tls.Config

	mu       sync.Mutex
	listener *quicListener
}

// NewQuicTransport creates an unbound QUIC transport.
func NewQuicTransport(tlsConfig *tls.Config) *QuicTransport {
	return &QuicTransport{TLSConfig: tlsConfig}
}

// Listen binds a QUIC listener on addr.
func (t *QuicTransport) Listen(_ context.Context, addr string) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return nil, ErrAlreadyListening
	}

	tlsConfig := t.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = selfSignedTLSConfig()
		if err != nil {
			return nil, errors.Wrap(err, "generate tls config")
		}
	}

	ln, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	t.listener = &quicListener{ln: ln}
	return t.listener, nil
}

// Dial opens a QUIC connection to addr.
func (t *QuicTransport) Dial(ctx context.Context, addr string) (Connection, error) {
	tlsConfig := t.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProtocol},
		}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &quicConn{conn: conn}, nil
}

// Close shuts the listener down, if any.
func (t *QuicTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}

type quicListener struct {
	ln *quic.Listener
}

func (l *quicListener) Accept(ctx context.Context) (Connection, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "accept quic connection")
	}
	return &quicConn{conn: conn}, nil
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }
func (l *quicListener) Close() error   { return l.ln.Close() }

// quicConn frames messages as length-prefixed payloads, one stream per frame.
type quicConn struct {
	conn quic.Connection
}

func (c *quicConn) Read(ctx context.Context) ([]byte, error) {
	stream, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "accept stream")
	}
	return readLengthPrefixed(stream)
}

func (c *quicConn) Write(ctx context.Context, data []byte) error {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	defer func() { _ = stream.Close() }()
	return writeLengthPrefixed(stream, data)
}

func (c *quicConn) Close() error {
	return c.conn.CloseWithError(0, "closed")
}

func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "read frame length")
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "read frame data")
	}
	return data, nil
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	_, err := w.Write(data)
	return errors.Wrap(err, "write frame data")
}

// selfSignedTLSConfig builds an in-memory certificate for local development.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"driftsync"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}),
	)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}, nil
}
