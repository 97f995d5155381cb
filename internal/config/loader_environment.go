package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func loadBrokerFromEnv(cfg *Config) {
	if v := getEnvString("BROKER_KIND"); v != "" {
		cfg.Broker.Kind = v
	}
	if v := getEnvString("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// loadRedisFromEnv loads Redis configuration from environment variables
func loadRedisFromEnv(cfg *RedisConfig) {
	loadRedisStrings(cfg)
	if v := getEnvInt("REDIS_DB"); v != 0 {
		cfg.DB = v
	}
	loadRedisTimeouts(cfg)
}

func loadRedisStrings(cfg *RedisConfig) {
	if v := getEnvString("REDIS_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnvString("REDIS_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := getEnvString("REDIS_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getEnvString("REDIS_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
}

func loadRedisTimeouts(cfg *RedisConfig) {
	if v := getEnvDuration("REDIS_LEASE_TTL"); v != 0 {
		cfg.LeaseTTL = v
	}
	if v := getEnvDuration("REDIS_BIND_TIMEOUT"); v != 0 {
		cfg.BindTimeout = v
	}
	if v := getEnvDuration("REDIS_DIAL_TIMEOUT"); v != 0 {
		cfg.DialTimeout = v
	}
	if v := getEnvDuration("REDIS_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("REDIS_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("REDIS_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
}

// loadAMQPFromEnv loads AMQP configuration from environment variables
func loadAMQPFromEnv(cfg *AMQPConfig) {
	if v := getEnvString("AMQP_URL"); v != "" {
		cfg.URL = v
	}
	if v := getEnvString("AMQP_VHOST"); v != "" {
		cfg.Vhost = v
	}
	if v := getEnvString("AMQP_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := getEnvString("AMQP_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getEnvDuration("AMQP_HEARTBEAT"); v != 0 {
		cfg.Heartbeat = v
	}
	if v := getEnvDuration("AMQP_DIAL_TIMEOUT"); v != 0 {
		cfg.DialTimeout = v
	}
	if v := getEnvDuration("AMQP_RECEIVE_WAIT"); v != 0 {
		cfg.ReceiveWait = v
	}
}

// loadResendFromEnv loads the batch parameters. Unlike the connection
// settings, a malformed value here is an error: a silently defaulted count
// or TTL would change what gets moved.
func loadResendFromEnv(cfg *ResendConfig) error {
	if v := getEnvString("RESEND_FROM_QUEUE"); v != "" {
		cfg.FromQueue = v
	}
	if v := getEnvString("RESEND_TO_QUEUE"); v != "" {
		cfg.ToQueue = v
	}
	if v := getEnvString("RESEND_DELIVERY_MODE"); v != "" {
		cfg.DeliveryMode = v
	}
	if v, ok, err := lookupEnvInt("RESEND_COUNT"); err != nil {
		return err
	} else if ok {
		cfg.Count = v
	}
	if v, ok, err := lookupEnvInt("RESEND_MSG_TTL"); err != nil {
		return err
	} else if ok {
		cfg.MessageTTL = time.Duration(v) * time.Millisecond
	}
	if v, ok, err := lookupEnvBool("RESEND_MSG_DMQ"); err != nil {
		return err
	} else if ok {
		cfg.DMQEligible = v
	}
	if v := getEnvBool("RESEND_FORCE"); v {
		cfg.Force = v
	}
	if v := getEnvBool("RESEND_NOP"); v {
		cfg.NOP = v
	}
	if v := getEnvDuration("RESEND_COMMIT_TIMEOUT"); v != 0 {
		cfg.CommitTimeout = v
	}
	return nil
}

// loadMQTTFromEnv loads the report publisher configuration from environment variables
func loadMQTTFromEnv(cfg *MQTTConfig) {
	loadMQTTStrings(cfg)
	loadMQTTInts(cfg)
	loadMQTTTimeouts(cfg)
	loadMQTTBools(cfg)
}

func loadMQTTStrings(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := getEnvString("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getEnvString("MQTT_REPORT_TOPIC"); v != "" {
		cfg.ReportTopic = v
	}
	if v := getEnvString("MQTT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("MQTT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("MQTT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
}

func loadMQTTInts(cfg *MQTTConfig) {
	if v, ok, err := lookupEnvInt("MQTT_QOS"); err == nil && ok && v >= 0 && v <= 2 {
		cfg.QoS = byte(v) // #nosec G115 - validated range 0-2
	}
	if v := getEnvInt("MQTT_DISCONNECT_TIMEOUT"); v > 0 {
		cfg.DisconnectTimeout = uint(v) // #nosec G115 - checked positive
	}
}

func loadMQTTTimeouts(cfg *MQTTConfig) {
	if v := getEnvDuration("MQTT_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("MQTT_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
}

func loadMQTTBools(cfg *MQTTConfig) {
	if v := getEnvBool("MQTT_TLS_ENABLED"); v {
		cfg.TLSEnabled = v
	}
	if v := getEnvBool("MQTT_TLS_INSECURE_SKIP"); v {
		cfg.InsecureSkip = v
	}
	if v := getEnvBool("MQTT_USE_CERT_CN_PREFIX"); v {
		cfg.UseCertCNPrefix = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(key)
}

func getEnvInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return intValue
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

func getEnvBool(key string) bool {
	value := os.Getenv(key)
	return value == "true"
}

// lookupEnvInt distinguishes an unset variable from a malformed one
func lookupEnvInt(key string) (int, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %q is not an integer", key, value)
	}
	return v, true, nil
}

func lookupEnvBool(key string) (bool, bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return false, false, nil
	}
	v, err := parseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return v, true, nil
}

// parseBool accepts true/false in any letter case
func parseBool(s string) (bool, error) {
	switch {
	case strings.EqualFold(s, "true"):
		return true, nil
	case strings.EqualFold(s, "false"):
		return false, nil
	}
	return false, fmt.Errorf("%q is not true or false", s)
}
