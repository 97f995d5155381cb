package config

import "time"

// DefaultFromQueue is the broker's dead message queue
const DefaultFromQueue = "#DEAD_MSG_QUEUE"

func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:      "localhost:6379",
		Username:     "",
		Password:     "",
		DB:           0,
		Namespace:    "default",
		LeaseTTL:     15 * time.Second,
		BindTimeout:  0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		PingTimeout:  5 * time.Second,
	}
}

func defaultAMQPConfig() AMQPConfig {
	return AMQPConfig{
		URL:         "amqp://localhost:5672/",
		Vhost:       "",
		Username:    "",
		Password:    "",
		Heartbeat:   10 * time.Second,
		DialTimeout: 10 * time.Second,
		ReceiveWait: 500 * time.Millisecond,
	}
}

func defaultResendConfig() ResendConfig {
	return ResendConfig{
		FromQueue:     DefaultFromQueue,
		ToQueue:       "",
		Count:         1,
		MessageTTL:    0,
		DMQEligible:   true,
		DeliveryMode:  "persistent",
		Force:         false,
		NOP:           false,
		CommitTimeout: 30 * time.Second,
	}
}

func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:            "",
		ClientID:          "queue-resender",
		ReportTopic:       "resender/outcome",
		QoS:               1,
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      10 * time.Second,
		DisconnectTimeout: 1000,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		Broker:   BrokerConfig{Kind: BrokerRedis},
		Redis:    defaultRedisConfig(),
		AMQP:     defaultAMQPConfig(),
		Resend:   defaultResendConfig(),
		MQTT:     defaultMQTTConfig(),
		LogLevel: "",
	}
}
