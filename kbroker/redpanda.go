package kbroker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-logr/logr"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Redpanda runs a single-node Redpanda in a container. Its storage lives in
// the container and is discarded on Stop.
type Redpanda struct {
	RedpandaVersion string
	StartupTimeout  time.Duration
	Log             logr.Logger

	base
	testcontainer testcontainers.Container
}

var _ Broker = (*Redpanda)(nil)

func (b *Redpanda) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateReady:
		return nil
	case stateStopped:
		return &StartupError{Broker: "redpanda", Err: ErrStopped}
	}

	version := b.RedpandaVersion
	if version == "" {
		version = "latest"
	}

	port, err := FreePort()
	if err != nil {
		return &StartupError{Broker: "redpanda", Err: err}
	}

	timeout := b.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}

	req := testcontainers.ContainerRequest{
		Image:      fmt.Sprintf("docker.vectorized.io/vectorized/redpanda:%s", version),
		WaitingFor: wait.ForLog("Successfully started Redpanda!").WithStartupTimeout(timeout),
		User:       "root:root",
		Cmd: []string{
			"redpanda",
			"start",
			"--smp", "1",
			"--reserve-memory", "0M",
			"--overprovisioned",
			"--node-id", "0",
			"--kafka-addr", fmt.Sprintf("OUTSIDE://0.0.0.0:%d", port),
			"--advertise-kafka-addr", fmt.Sprintf("OUTSIDE://127.0.0.1:%d", port),
		},
		// Fixed port mapping: the advertised address must match what
		// clients dial.
		ExposedPorts: []string{fmt.Sprintf("%d:%d/tcp", port, port)},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if container != nil {
		b.testcontainer = container
	}
	if err != nil {
		b.release()
		return &StartupError{Broker: "redpanda", Err: err}
	}

	hostIP, err := container.Host(ctx)
	if err != nil {
		b.release()
		return &StartupError{Broker: "redpanda", Err: err}
	}

	mappedPort, err := container.MappedPort(ctx, nat.Port(fmt.Sprintf("%d/tcp", port)))
	if err != nil {
		b.release()
		return &StartupError{Broker: "redpanda", Err: err}
	}

	addr := net.JoinHostPort(hostIP, mappedPort.Port())
	a, err := connect(ctx, b.Log.WithName("admin"), []string{addr}, timeout)
	if err != nil {
		b.release()
		return &StartupError{Broker: "redpanda", Err: err}
	}

	b.admin = a
	b.addr = addr
	b.state = stateReady
	b.Log.Info("Redpanda broker ready", "addr", addr, "version", version)
	return nil
}

func (b *Redpanda) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateStopped {
		return nil
	}
	err := b.release()
	b.state = stateStopped
	return err
}

// release must be called with mu held.
func (b *Redpanda) release() error {
	b.admin.close()
	b.admin = nil
	if b.testcontainer == nil {
		return nil
	}
	err := b.testcontainer.Terminate(context.Background())
	b.testcontainer = nil
	return err
}

// FreePort asks the kernel for a free open port that is ready to use.
func FreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
