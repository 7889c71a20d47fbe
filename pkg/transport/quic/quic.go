// Package quic carries BCP frames over one bidirectional QUIC stream per
// connection. Certificates are self-signed; peers authenticate with the
// BCP hello, not with TLS.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"bcphub/pkg/protocol/stream"
	"bcphub/pkg/transport"
)

// ALPN is the application protocol negotiated during the TLS handshake.
const ALPN = "bcp"

// preamble makes the dialer's stream visible to the acceptor before the
// first command is written.
const preamble byte = 0xbc

type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

func New() *Transport {
	cert, err := selfSignedCert()
	if err != nil {
		zap.L().Warn("quic: self-signed certificate", zap.Error(err))
	}
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{ALPN},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{KeepAlivePeriod: 15 * time.Second},
	}
}

func (t *Transport) Name() string { return transport.KindQUIC }

func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint) (transport.Stream, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, ep.Address(), tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "")
		return nil, err
	}
	if _, err := st.Write([]byte{preamble}); err != nil {
		_ = c.CloseWithError(0, "")
		return nil, err
	}
	sc := &rwc{ReadWriter: st, closef: func() error {
		_ = st.Close()
		return c.CloseWithError(0, "")
	}}
	return stream.New(sc, ep.Framing, c.RemoteAddr()), nil
}

func (t *Transport) Listen(_ context.Context, ep transport.Endpoint) (transport.Listener, error) {
	ql, err := quicgo.ListenAddr(ep.Address(), t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	actx, cancel := context.WithCancel(context.Background())
	l := &listener{
		addr:    ql.Addr(),
		closef:  ql.Close,
		cancel:  cancel,
		newCh:   make(chan transport.Stream, 8),
		closeCh: make(chan struct{}),
	}
	go func() {
		for {
			c, err := ql.Accept(actx)
			if err != nil {
				return
			}
			go func() {
				st, err := c.AcceptStream(actx)
				if err != nil {
					_ = c.CloseWithError(0, "")
					return
				}
				var pre [1]byte
				if _, err := io.ReadFull(st, pre[:]); err != nil || pre[0] != preamble {
					zap.L().Debug("quic: bad stream preamble", zap.Stringer("raddr", c.RemoteAddr()), zap.Error(err))
					_ = c.CloseWithError(1, "bad preamble")
					return
				}
				sc := &rwc{ReadWriter: st, closef: func() error {
					_ = st.Close()
					return c.CloseWithError(0, "")
				}}
				l.deliver(stream.New(sc, ep.Framing, c.RemoteAddr()))
			}()
		}
	}()
	return l, nil
}

type listener struct {
	addr    net.Addr
	closef  func() error
	cancel  context.CancelFunc
	newCh   chan transport.Stream
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.addr }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("quic listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) deliver(s transport.Stream) {
	select {
	case l.newCh <- s:
	case <-l.closeCh:
		_ = s.Close()
	}
}

// Close stops accepting. Established connections share the underlying
// socket in quic-go and are torn down with it.
func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		l.cancel()
		err = l.closef()
	})
	return err
}

type rwc struct {
	io.ReadWriter
	closef func() error
}

func (r *rwc) Close() error { return r.closef() }

// selfSignedCert generates a short-lived self-signed certificate for the listener side.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
