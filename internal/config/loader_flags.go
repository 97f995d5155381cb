package config

import (
	"flag"
	"fmt"
	"time"
)

// cliFlags holds the command line flags (precedence over environment variables)
type cliFlags struct {
	brokerKind *string
	logLevel   *string

	redisAddress      *string
	redisUsername     *string
	redisPassword     *string
	redisDB           *int
	redisNamespace    *string
	redisLeaseTTL     *time.Duration
	redisBindTimeout  *time.Duration
	redisDialTimeout  *time.Duration
	redisReadTimeout  *time.Duration
	redisWriteTimeout *time.Duration
	redisPingTimeout  *time.Duration

	amqpURL         *string
	amqpVhost       *string
	amqpUsername    *string
	amqpPassword    *string
	amqpHeartbeat   *time.Duration
	amqpDialTimeout *time.Duration
	amqpReceiveWait *time.Duration

	fromQueue     *string
	toQueue       *string
	count         *int
	msgTTL        *int
	msgDMQ        *string
	deliveryMode  *string
	force         *bool
	nop           *bool
	commitTimeout *time.Duration

	mqttBroker            *string
	mqttClientID          *string
	mqttReportTopic       *string
	mqttQoS               *int
	mqttConnectTimeout    *time.Duration
	mqttWriteTimeout      *time.Duration
	mqttDisconnectTimeout *int
	mqttTLSEnabled        *bool
	mqttCACert            *string
	mqttClientCert        *string
	mqttClientKey         *string
	mqttTLSInsecureSkip   *bool
	mqttUseCertCNPrefix   *bool
}

var flags = registerFlags(flag.CommandLine)

func registerFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		brokerKind: fs.String("broker", "", "Broker backend: redis or amqp"),
		logLevel:   fs.String("log-level", "", "Log level (trace, debug, info, warn, error); debug dumps read messages"),

		redisAddress:      fs.String("redis-address", "", "Redis address"),
		redisUsername:     fs.String("redis-username", "", "Redis ACL username"),
		redisPassword:     fs.String("redis-password", "", "Redis password"),
		redisDB:           fs.Int("redis-db", 0, "Redis database number"),
		redisNamespace:    fs.String("redis-namespace", "", "Key namespace of the queues (tenant)"),
		redisLeaseTTL:     fs.Duration("redis-lease-ttl", 0, "Exclusive binding lease TTL"),
		redisBindTimeout:  fs.Duration("redis-bind-timeout", 0, "Wait up to this long for the queue to become free"),
		redisDialTimeout:  fs.Duration("redis-dial-timeout", 0, "Redis dial timeout"),
		redisReadTimeout:  fs.Duration("redis-read-timeout", 0, "Redis read timeout"),
		redisWriteTimeout: fs.Duration("redis-write-timeout", 0, "Redis write timeout"),
		redisPingTimeout:  fs.Duration("redis-ping-timeout", 0, "Redis ping timeout"),

		amqpURL:         fs.String("amqp-url", "", "AMQP broker URL"),
		amqpVhost:       fs.String("amqp-vhost", "", "AMQP virtual host (tenant)"),
		amqpUsername:    fs.String("amqp-username", "", "AMQP username"),
		amqpPassword:    fs.String("amqp-password", "", "AMQP password"),
		amqpHeartbeat:   fs.Duration("amqp-heartbeat", 0, "AMQP heartbeat interval"),
		amqpDialTimeout: fs.Duration("amqp-dial-timeout", 0, "AMQP dial timeout"),
		amqpReceiveWait: fs.Duration("amqp-receive-wait", 0, "Longest wait for one message before the queue counts as empty"),

		fromQueue:     fs.String("from-queue", "", "Queue to read from (default "+DefaultFromQueue+")"),
		toQueue:       fs.String("to-queue", "", "Queue to re-send to (required)"),
		count:         fs.Int("count", 0, "Number of messages to read and re-send (default 1)"),
		msgTTL:        fs.Int("msg-ttl", 0, "TimeToLive in millisecs set on resent messages (default 0 - no expiry)"),
		msgDMQ:        fs.String("msg-dmq", "", "DMQ eligible flag set on resent messages: true or false (default true)"),
		deliveryMode:  fs.String("delivery-mode", "", "Delivery mode of resent messages: persistent, non-persistent, direct"),
		force:         fs.Bool("force", false, "Force resend, ignoring original queue mismatches"),
		nop:           fs.Bool("nop", false, "Force rollback, do not commit transaction"),
		commitTimeout: fs.Duration("commit-timeout", 0, "Timeout of the final commit or rollback"),

		mqttBroker:            fs.String("mqtt-broker", "", "MQTT broker URL for outcome reports (empty disables)"),
		mqttClientID:          fs.String("mqtt-client-id", "", "MQTT client ID"),
		mqttReportTopic:       fs.String("mqtt-report-topic", "", "MQTT topic receiving the outcome report"),
		mqttQoS:               fs.Int("mqtt-qos", -1, "MQTT QoS (0, 1, or 2)"),
		mqttConnectTimeout:    fs.Duration("mqtt-connect-timeout", 0, "MQTT connect timeout"),
		mqttWriteTimeout:      fs.Duration("mqtt-write-timeout", 0, "MQTT write timeout"),
		mqttDisconnectTimeout: fs.Int("mqtt-disconnect-timeout", 0, "MQTT disconnect timeout (ms)"),
		mqttTLSEnabled:        fs.Bool("mqtt-tls-enabled", false, "Enable MQTT TLS"),
		mqttCACert:            fs.String("mqtt-ca-cert", "", "MQTT CA certificate path"),
		mqttClientCert:        fs.String("mqtt-client-cert", "", "MQTT client certificate path"),
		mqttClientKey:         fs.String("mqtt-client-key", "", "MQTT client key path"),
		mqttTLSInsecureSkip:   fs.Bool("mqtt-tls-insecure-skip", false, "Skip MQTT TLS verification"),
		mqttUseCertCNPrefix:   fs.Bool("mqtt-use-cert-cn-prefix", false, "Prefix the report topic with client cert CN"),
	}
}

func applyBrokerFlags(cfg *Config) {
	if *flags.brokerKind != "" {
		cfg.Broker.Kind = *flags.brokerKind
	}
	if *flags.logLevel != "" {
		cfg.LogLevel = *flags.logLevel
	}
}

// applyRedisFlags applies command line flags to Redis configuration
func applyRedisFlags(cfg *RedisConfig) {
	if *flags.redisAddress != "" {
		cfg.Address = *flags.redisAddress
	}
	if *flags.redisUsername != "" {
		cfg.Username = *flags.redisUsername
	}
	if *flags.redisPassword != "" {
		cfg.Password = *flags.redisPassword
	}
	if isFlagSet("redis-db") {
		cfg.DB = *flags.redisDB
	}
	if *flags.redisNamespace != "" {
		cfg.Namespace = *flags.redisNamespace
	}
	applyRedisFlagTimeouts(cfg)
}

func applyRedisFlagTimeouts(cfg *RedisConfig) {
	if *flags.redisLeaseTTL != 0 {
		cfg.LeaseTTL = *flags.redisLeaseTTL
	}
	if *flags.redisBindTimeout != 0 {
		cfg.BindTimeout = *flags.redisBindTimeout
	}
	if *flags.redisDialTimeout != 0 {
		cfg.DialTimeout = *flags.redisDialTimeout
	}
	if *flags.redisReadTimeout != 0 {
		cfg.ReadTimeout = *flags.redisReadTimeout
	}
	if *flags.redisWriteTimeout != 0 {
		cfg.WriteTimeout = *flags.redisWriteTimeout
	}
	if *flags.redisPingTimeout != 0 {
		cfg.PingTimeout = *flags.redisPingTimeout
	}
}

// applyAMQPFlags applies command line flags to AMQP configuration
func applyAMQPFlags(cfg *AMQPConfig) {
	if *flags.amqpURL != "" {
		cfg.URL = *flags.amqpURL
	}
	if *flags.amqpVhost != "" {
		cfg.Vhost = *flags.amqpVhost
	}
	if *flags.amqpUsername != "" {
		cfg.Username = *flags.amqpUsername
	}
	if *flags.amqpPassword != "" {
		cfg.Password = *flags.amqpPassword
	}
	if *flags.amqpHeartbeat != 0 {
		cfg.Heartbeat = *flags.amqpHeartbeat
	}
	if *flags.amqpDialTimeout != 0 {
		cfg.DialTimeout = *flags.amqpDialTimeout
	}
	if *flags.amqpReceiveWait != 0 {
		cfg.ReceiveWait = *flags.amqpReceiveWait
	}
}

// applyResendFlags applies the batch flags. Numeric flags are taken as given
// when present, so an explicit -count=0 reaches validation instead of
// falling back to the default.
func applyResendFlags(cfg *ResendConfig) error {
	if *flags.fromQueue != "" {
		cfg.FromQueue = *flags.fromQueue
	}
	if *flags.toQueue != "" {
		cfg.ToQueue = *flags.toQueue
	}
	if isFlagSet("count") {
		cfg.Count = *flags.count
	}
	if isFlagSet("msg-ttl") {
		cfg.MessageTTL = time.Duration(*flags.msgTTL) * time.Millisecond
	}
	if *flags.msgDMQ != "" {
		v, err := parseBool(*flags.msgDMQ)
		if err != nil {
			return fmt.Errorf("-msg-dmq: %w", err)
		}
		cfg.DMQEligible = v
	}
	if *flags.deliveryMode != "" {
		cfg.DeliveryMode = *flags.deliveryMode
	}
	if isFlagSet("force") {
		cfg.Force = *flags.force
	}
	if isFlagSet("nop") {
		cfg.NOP = *flags.nop
	}
	if *flags.commitTimeout != 0 {
		cfg.CommitTimeout = *flags.commitTimeout
	}
	return nil
}

// applyMQTTFlags applies command line flags to the report publisher configuration
func applyMQTTFlags(cfg *MQTTConfig) {
	applyMQTTFlagStrings(cfg)
	if *flags.mqttQoS != -1 && *flags.mqttQoS >= 0 && *flags.mqttQoS <= 2 {
		cfg.QoS = byte(*flags.mqttQoS) // #nosec G115 - validated range 0-2
	}
	if *flags.mqttConnectTimeout != 0 {
		cfg.ConnectTimeout = *flags.mqttConnectTimeout
	}
	if *flags.mqttWriteTimeout != 0 {
		cfg.WriteTimeout = *flags.mqttWriteTimeout
	}
	if *flags.mqttDisconnectTimeout > 0 {
		cfg.DisconnectTimeout = uint(*flags.mqttDisconnectTimeout) // #nosec G115 - checked positive
	}
	applyMQTTFlagBools(cfg)
}

func applyMQTTFlagStrings(cfg *MQTTConfig) {
	if *flags.mqttBroker != "" {
		cfg.Broker = *flags.mqttBroker
	}
	if *flags.mqttClientID != "" {
		cfg.ClientID = *flags.mqttClientID
	}
	if *flags.mqttReportTopic != "" {
		cfg.ReportTopic = *flags.mqttReportTopic
	}
	if *flags.mqttCACert != "" {
		cfg.CACert = *flags.mqttCACert
	}
	if *flags.mqttClientCert != "" {
		cfg.ClientCert = *flags.mqttClientCert
	}
	if *flags.mqttClientKey != "" {
		cfg.ClientKey = *flags.mqttClientKey
	}
}

func applyMQTTFlagBools(cfg *MQTTConfig) {
	// Handle bool flags - check if explicitly set
	if isFlagSet("mqtt-tls-enabled") {
		cfg.TLSEnabled = *flags.mqttTLSEnabled
	}
	if isFlagSet("mqtt-tls-insecure-skip") {
		cfg.InsecureSkip = *flags.mqttTLSInsecureSkip
	}
	if isFlagSet("mqtt-use-cert-cn-prefix") {
		cfg.UseCertCNPrefix = *flags.mqttUseCertCNPrefix
	}
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
