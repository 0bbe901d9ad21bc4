package push

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/errors"
	"github.com/heavystatus/newsroom-edge/internal/logger"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttQuiesce        = 250 // milliseconds
)

// MQTTSource subscribes to the push topic and publishes every message to a
// bus. The subscription is renewed on every reconnect. While the bus is
// full the message handler waits, which holds back further deliveries.
type MQTTSource struct {
	client paho.Client
	topic  string
	qos    byte
	bus    *Bus
	log    logger.Logger

	// ctx bounds handlers waiting on the bus; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMQTTSource configures a source. It does not connect.
func NewMQTTSource(cfg conf.MQTTSettings, bus *Bus, log logger.Logger) (*MQTTSource, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Topic == "" {
		return nil, errors.Newf("mqtt topic is not configured").
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &MQTTSource{
		ctx:    ctx,
		cancel: cancel,
		topic:  cfg.Topic,
		qos:    cfg.QoS,
		bus:    bus,
		log:    log.Module("push.mqtt").With(logger.String("broker", cfg.Broker), logger.String("topic", cfg.Topic)),
	}
	s.client = paho.NewClient(clientOptions(cfg, cfg.ClientID).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.log.Warn("mqtt connection lost", logger.Error(err))
		}))
	return s, nil
}

func clientOptions(cfg conf.MQTTSettings, clientID string) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(mqttConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// Start connects and subscribes.
func (s *MQTTSource) Start(ctx context.Context) error {
	if err := waitToken(ctx, s.client.Connect()); err != nil {
		return errors.New(err).
			Component("push").
			Category(errors.CategoryNetwork).
			Context("operation", "mqtt connect").
			Build()
	}
	s.log.Info("mqtt push source connected")
	return nil
}

// Stop releases waiting handlers and disconnects from the broker.
func (s *MQTTSource) Stop() {
	s.cancel()
	if s.client.IsConnected() {
		s.client.Disconnect(mqttQuiesce)
	}
}

func (s *MQTTSource) subscribe(c paho.Client) {
	token := c.Subscribe(s.topic, s.qos, s.onMessage)
	if !token.WaitTimeout(mqttConnectTimeout) {
		s.log.Error("mqtt subscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		s.log.Error("mqtt subscribe failed", logger.Error(err))
		return
	}
	s.log.Debug("mqtt subscribed")
}

func (s *MQTTSource) onMessage(_ paho.Client, msg paho.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	s.deliver(payload)
}

func (s *MQTTSource) deliver(payload []byte) {
	err := s.bus.PublishWait(s.ctx, &Event{Source: SourceMQTT, Payload: payload, ReceivedAt: time.Now()})
	if err != nil {
		s.log.Error("mqtt push lost", logger.Int("bytes", len(payload)), logger.Error(err))
	}
}

// PublishMQTT sends one payload to the push topic and disconnects.
func PublishMQTT(ctx context.Context, cfg conf.MQTTSettings, payload []byte) error {
	if cfg.Broker == "" || cfg.Topic == "" {
		return errors.Newf("mqtt broker and topic are required").
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	client := paho.NewClient(clientOptions(cfg, cfg.ClientID+"-publisher").SetAutoReconnect(false))
	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer client.Disconnect(mqttQuiesce)

	if err := waitToken(ctx, client.Publish(cfg.Topic, cfg.QoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
