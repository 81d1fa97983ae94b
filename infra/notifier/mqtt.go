package notifier

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/hemolink/core/logger"
)

// MQTTConfig defines the broker connection.
type MQTTConfig struct {
	Broker           string `json:"broker" koanf:"broker"`
	ClientID         string `json:"client_id" koanf:"client_id"`
	Username         string `json:"username" koanf:"username"`
	Password         string `json:"password" koanf:"password"`
	TopicPrefix      string `json:"topic_prefix" koanf:"topic_prefix"`
	QoS              byte   `json:"qos" koanf:"qos"`
	UseTLS           bool   `json:"use_tls" koanf:"use_tls"`
	CABundle         string `json:"ca_bundle" koanf:"ca_bundle"`
	ClientCert       string `json:"client_cert" koanf:"client_cert"`
	ClientKey        string `json:"client_key" koanf:"client_key"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms" koanf:"connect_timeout_ms"`
}

type pahoClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newPahoClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTPublisher implements Publisher on an Eclipse Paho client.
type MQTTPublisher struct {
	cli pahoClient
	qos byte
	log logger.Logger
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig, log logger.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("notifier: broker address is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "hemolink-" + uuid.NewString()[:8]
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.ConnectTimeoutMS > 0 {
		opts.SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.OnConnect = func(paho.Client) { log.Infof("MQTT connected to %s", cfg.Broker) }
	opts.OnConnectionLost = func(_ paho.Client, err error) { log.Errorf("MQTT connection lost: %v", err) }

	cli := newPahoClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &MQTTPublisher{cli: cli, qos: cfg.QoS, log: log}, nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.cli.Publish(topic, p.qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.cli.Disconnect(250)
	return nil
}

func (c MQTTConfig) loadTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CABundle != "" {
		ca, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("no certificates found in %s", c.CABundle)
		}
		tlsCfg.RootCAs = pool
	}
	if c.ClientCert != "" && c.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
