package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pkcs12"

	"github.com/vitalvas/crtbridge/crterr"
)

const opTLSContext = "httpclient: tls context"

// TLSContextOptions describes client-side TLS settings shared by many
// connections.
type TLSContextOptions struct {
	// MinVersion is the minimum TLS version. Default: TLS 1.2.
	MinVersion uint16

	// ALPNList is the default protocol list offered during the handshake,
	// e.g. []string{"h2", "http/1.1"}.
	ALPNList []string

	// CAFile is a PEM bundle of trusted roots.
	CAFile string

	// CAPath is a directory of PEM files with trusted roots.
	CAPath string

	// RootCAs is a ready-made pool of trusted roots. When set together with
	// CAFile or CAPath the PEM roots are added to it.
	RootCAs *x509.CertPool

	// CertFile and KeyFile are a PEM client certificate and key for mutual TLS.
	CertFile string
	KeyFile  string

	// PKCS12File and PKCS12Password load a client certificate and key from a
	// PKCS#12 bundle instead of PEM.
	PKCS12File     string
	PKCS12Password string

	// SkipPeerVerification disables server certificate checks.
	SkipPeerVerification bool
}

// DefaultTLSContextOptions returns options that verify the peer with the
// system roots and require TLS 1.2 or later.
func DefaultTLSContextOptions() TLSContextOptions {
	return TLSContextOptions{MinVersion: tls.VersionTLS12}
}

// TLSContext is an immutable client TLS configuration.
type TLSContext struct {
	cfg *tls.Config
}

// NewTLSContext loads certificates and builds a TLSContext.
func NewTLSContext(opts TLSContextOptions) (*TLSContext, error) {
	cfg := &tls.Config{
		MinVersion:         opts.MinVersion,
		NextProtos:         append([]string(nil), opts.ALPNList...),
		RootCAs:            opts.RootCAs,
		InsecureSkipVerify: opts.SkipPeerVerification, //nolint:gosec
	}

	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	if opts.CAFile != "" || opts.CAPath != "" {
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}

		if err := loadRoots(pool, opts.CAFile, opts.CAPath); err != nil {
			return nil, crterr.Wrap(crterr.CodeTLSContextFailure, opTLSContext, err)
		}
		cfg.RootCAs = pool
	}

	switch {
	case opts.PKCS12File != "":
		cert, err := loadPKCS12(opts.PKCS12File, opts.PKCS12Password)
		if err != nil {
			return nil, crterr.Wrap(crterr.CodeTLSContextFailure, opTLSContext, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case opts.CertFile != "" || opts.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, crterr.Wrap(crterr.CodeTLSContextFailure, opTLSContext, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return &TLSContext{cfg: cfg}, nil
}

func loadRoots(pool *x509.CertPool, file, dir string) error {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if !pool.AppendCertsFromPEM(data) {
			return fmt.Errorf("no certificates in %s", file)
		}
	}

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}

		added := false
		for _, e := range entries {
			if e.IsDir() {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return err
			}
			if pool.AppendCertsFromPEM(data) {
				added = true
			}
		}

		if !added {
			return fmt.Errorf("no certificates in %s", dir)
		}
	}

	return nil
}

func loadPKCS12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pkcs12: %w", err)
	}

	if leaf == nil || key == nil {
		return tls.Certificate{}, errors.New("pkcs12 bundle lacks certificate or key")
	}

	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// TLSConnectionOptions applies a TLSContext to one connection.
type TLSConnectionOptions struct {
	Context *TLSContext

	// ServerName is used for SNI and verification. Default: the host name.
	ServerName string

	// ALPNList overrides the context's protocol list.
	ALPNList []string
}

func (o *TLSConnectionOptions) config(host string) (*tls.Config, error) {
	if o.Context == nil {
		return nil, crterr.InvalidArgument("httpclient: tls", "tls options need a context")
	}

	cfg := o.Context.cfg.Clone()
	if o.ServerName != "" {
		cfg.ServerName = o.ServerName
	} else {
		cfg.ServerName = host
	}

	if len(o.ALPNList) > 0 {
		cfg.NextProtos = append([]string(nil), o.ALPNList...)
	}

	return cfg, nil
}
