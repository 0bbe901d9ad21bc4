//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoConf = "listener 1883\nallow_anonymous true\n"

// Mosquitto is a throwaway MQTT broker.
type Mosquitto struct {
	container testcontainers.Container
	brokerURL string
}

// NewMosquitto starts an anonymous broker and waits until a client can
// connect to it.
func NewMosquitto(ctx context.Context) (*Mosquitto, error) {
	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto/config/edge.conf"},
		Files: []testcontainers.ContainerFile{{
			Reader:            strings.NewReader(mosquittoConf),
			ContainerFilePath: "/mosquitto/config/edge.conf",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mosquitto container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mosquitto host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mosquitto port: %w", err)
	}

	m := &Mosquitto{
		container: container,
		brokerURL: "tcp://" + net.JoinHostPort(host, port.Port()),
	}
	if err := m.ping(); err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}
	return m, nil
}

// BrokerURL returns the tcp:// address of the broker.
func (m *Mosquitto) BrokerURL() string { return m.brokerURL }

func (m *Mosquitto) ping() error {
	c, err := m.Connect("containers-ping")
	if err != nil {
		return fmt.Errorf("mosquitto not ready: %w", err)
	}
	c.Disconnect(100)
	return nil
}

// Connect returns a client connected to the broker. The caller disconnects
// it.
func (m *Mosquitto) Connect(clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(m.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(false)
	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s timed out", m.brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// Terminate removes the container.
func (m *Mosquitto) Terminate(ctx context.Context) error {
	if m.container == nil {
		return nil
	}
	if err := m.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate mosquitto container: %w", err)
	}
	return nil
}
