package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cascadedb/cascade/pkg/security"
)

// Server hosts one or more of MetaService/TaskService/ExchangeService/
// CompactorService behind a single mTLS-secured gRPC listener.
type Server struct {
	grpc *grpc.Server
}

// NewServer builds a Server secured with the node's certificate from
// certDir (see pkg/security), requesting but not requiring a client
// certificate per RPC.
func NewServer(certDir string) (*Server, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load node certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load CA certificate: %w", err)
	}
	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    certPool,
		MinVersion:   tls.VersionTLS13,
	}
	return &Server{grpc: grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsConfig)))}, nil
}

// NewInsecureServer builds a Server without transport security, for local
// development and tests.
func NewInsecureServer() *Server {
	return &Server{grpc: grpc.NewServer()}
}

// Raw exposes the underlying *grpc.Server so callers can register the
// service descriptors they host (RegisterMetaServer, RegisterTaskServer,
// RegisterExchangeServer, RegisterCompactorServer).
func (s *Server) Raw() *grpc.Server { return s.grpc }

// Serve listens on addr and blocks serving RPCs until the listener closes
// or Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() { s.grpc.GracefulStop() }

// DialOptions returns the grpc.DialOption set every Cascade client dial
// needs: the gob content-subtype negotiated by this package's codec, plus
// mTLS credentials built from certDir. Pass insecure.NewCredentials() via
// DialInsecureOptions for local development instead.
func DialOptions(certDir string) ([]grpc.DialOption, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load client certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load CA certificate: %w", err)
	}
	certPool := x509.NewCertPool()
	certPool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      certPool,
		MinVersion:   tls.VersionTLS13,
	}
	return []grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, nil
}

// DialInsecureOptions is DialOptions without transport security, for local
// development and tests.
func DialInsecureOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
}
