package broker

import (
	"fmt"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs a NATS server inside the process for deployments
// without an external broker.
type EmbeddedServer struct {
	ns             *server.Server
	startupTimeout time.Duration
}

type NewEmbeddedServerOptions struct {
	Host string
	// Port -1 picks a random free port.
	Port         int
	StartTimeout time.Duration
}

func NewEmbeddedServer(opts NewEmbeddedServerOptions) (*EmbeddedServer, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 10 * time.Second
	}

	ns, err := server.NewServer(&server.Options{
		Host:   opts.Host,
		Port:   opts.Port,
		NoSigs: true, // signals are handled by the application
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create nats server: %w", err)
	}

	return &EmbeddedServer{
		ns:             ns,
		startupTimeout: opts.StartTimeout,
	}, nil
}

// Start starts the server and waits until it accepts connections.
func (s *EmbeddedServer) Start() error {
	s.ns.Start()

	if !s.ns.ReadyForConnections(s.startupTimeout) {
		s.ns.Shutdown()
		return fmt.Errorf("nats server not ready for connections after %v", s.startupTimeout)
	}

	log.Info("Embedded NATS server listening on %s", s.ns.Addr())
	return nil
}

func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
