// Package jetstream embeds a NATS server with JetStream and carries
// conversation updates over it.
package jetstream

import (
	"errors"
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
)

const readyTimeout = 5 * time.Second

type Server struct{ ns *server.Server }

// NewServer starts an embedded server storing streams under storeDir. With
// port 0 it accepts in-process connections only; otherwise it also listens
// on 127.0.0.1:port so other varys processes can watch.
func NewServer(storeDir string, port int) (*Server, error) {
	opts := &server.Options{
		JetStream:  true,
		StoreDir:   storeDir,
		DontListen: port == 0,
		NoSigs:     true,
	}
	if port != 0 {
		opts.Host = "127.0.0.1"
		opts.Port = port
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("nats server not ready")
	}
	return &Server{ns: ns}, nil
}

func (s *Server) Connect() (*nats.Conn, error) {
	return nats.Connect(s.ns.ClientURL(), nats.InProcessServer(s.ns))
}

// ClientURL is where external processes can reach the server when it
// listens on a port.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
