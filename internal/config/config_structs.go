// Package config provides configuration loading and validation from environment variables and command line flags.
package config

import "time"

// Supported broker backends
const (
	BrokerRedis = "redis"
	BrokerAMQP  = "amqp"
)

// Config holds the complete configuration
type Config struct {
	Broker   BrokerConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Resend   ResendConfig
	MQTT     MQTTConfig
	LogLevel string
}

// BrokerConfig selects the broker backend
type BrokerConfig struct {
	Kind string
}

// RedisConfig holds the Redis Streams backend configuration
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	// Namespace prefixes every queue key, playing the role of a tenant/VPN
	Namespace    string
	LeaseTTL     time.Duration // Exclusive binding lease, refreshed every LeaseTTL/3
	BindTimeout  time.Duration // How long to wait for another consumer to release the queue
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

// AMQPConfig holds the AMQP 0-9-1 backend configuration
type AMQPConfig struct {
	URL         string
	Vhost       string
	Username    string
	Password    string
	Heartbeat   time.Duration
	DialTimeout time.Duration
	ReceiveWait time.Duration // Upper bound of a single non-blocking receive
}

// ResendConfig holds the batch parameters
type ResendConfig struct {
	FromQueue     string
	ToQueue       string
	Count         int
	MessageTTL    time.Duration // 0 means no expiry
	DMQEligible   bool
	DeliveryMode  string
	Force         bool
	NOP           bool
	CommitTimeout time.Duration
}

// MQTTConfig holds the outcome report publisher configuration.
// Reporting is disabled when Broker is empty.
type MQTTConfig struct {
	Broker            string
	ClientID          string
	ReportTopic       string
	QoS               byte
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	DisconnectTimeout uint // Milliseconds for graceful disconnect
	// TLS Configuration
	TLSEnabled      bool
	CACert          string
	ClientCert      string
	ClientKey       string
	InsecureSkip    bool
	UseCertCNPrefix bool // If true, prefix the report topic with cert CN for ACL constraints
}

// Enabled reports whether an outcome report should be published
func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}
