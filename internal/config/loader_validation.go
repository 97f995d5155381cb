package config

import "fmt"

// Validate checks configuration constraints. Only the selected broker
// backend is validated; the report publisher only when enabled.
func Validate(cfg *Config) error {
	switch cfg.Broker.Kind {
	case BrokerRedis:
		if err := validateRedis(&cfg.Redis); err != nil {
			return err
		}
	case BrokerAMQP:
		if err := validateAMQP(&cfg.AMQP); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown broker %q (want %s or %s)", cfg.Broker.Kind, BrokerRedis, BrokerAMQP)
	}
	if err := validateResend(&cfg.Resend); err != nil {
		return err
	}
	if cfg.MQTT.Enabled() {
		return validateMQTT(&cfg.MQTT)
	}
	return nil
}

func validateRedis(cfg *RedisConfig) error {
	if cfg.Address == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if cfg.Namespace == "" {
		return fmt.Errorf("redis namespace cannot be empty")
	}
	if cfg.LeaseTTL <= 0 {
		return fmt.Errorf("redis lease ttl must be positive")
	}
	if cfg.BindTimeout < 0 {
		return fmt.Errorf("redis bind timeout cannot be negative")
	}
	return nil
}

func validateAMQP(cfg *AMQPConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("amqp url cannot be empty")
	}
	if cfg.ReceiveWait <= 0 {
		return fmt.Errorf("amqp receive wait must be positive")
	}
	return nil
}

func validateResend(cfg *ResendConfig) error {
	if cfg.ToQueue == "" {
		return fmt.Errorf("to queue must be specified")
	}
	if cfg.FromQueue == "" {
		return fmt.Errorf("from queue cannot be empty")
	}
	if cfg.FromQueue == cfg.ToQueue {
		return fmt.Errorf("from queue and to queue must differ")
	}
	if cfg.Count < 1 {
		return fmt.Errorf("count must be positive")
	}
	if cfg.MessageTTL < 0 {
		return fmt.Errorf("message ttl cannot be negative")
	}
	switch cfg.DeliveryMode {
	case "persistent", "non-persistent", "direct":
	default:
		return fmt.Errorf("invalid delivery mode %q", cfg.DeliveryMode)
	}
	return nil
}

func validateMQTT(cfg *MQTTConfig) error {
	if cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty")
	}
	if cfg.ReportTopic == "" {
		return fmt.Errorf("mqtt report topic cannot be empty")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}
