// Package main starts the queue resender binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibs-source/queue-resender/internal/amqp"
	"github.com/ibs-source/queue-resender/internal/config"
	"github.com/ibs-source/queue-resender/internal/log"
	"github.com/ibs-source/queue-resender/internal/mqtt"
	"github.com/ibs-source/queue-resender/internal/redis"
	"github.com/ibs-source/queue-resender/internal/resend"
)

// broker is a resend backend owning its connection
type broker interface {
	resend.Broker
	Close() error
}

func run() int {
	logger := log.New()

	cfg, err := loadAndLogConfig(logger)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	b, err := connectBroker(cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to %s broker: %v", cfg.Broker.Kind, err)
		out := connectFailure(cfg, err, start)
		publishReport(cfg, out, logger)
		return out.ExitCode()
	}
	defer closeBroker(b, logger)

	engine, err := resend.New(b, &cfg.Resend, logger)
	if err != nil {
		logger.Error("Failed to create resend engine: %v", err)
		return 1
	}

	out := engine.Run(ctx)
	publishReport(cfg, out, logger)
	return out.ExitCode()
}

func loadAndLogConfig(logger *log.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel)

	logger.Debug("Configuration loaded successfully")
	switch cfg.Broker.Kind {
	case config.BrokerRedis:
		logger.Info("Redis: %s, Namespace: %s", cfg.Redis.Address, cfg.Redis.Namespace)
	case config.BrokerAMQP:
		logger.Info("AMQP: vhost %q", cfg.AMQP.Vhost)
	}
	logger.Info("Resend: %d from %s to %s (force=%t, nop=%t, mode=%s)",
		cfg.Resend.Count, cfg.Resend.FromQueue, cfg.Resend.ToQueue,
		cfg.Resend.Force, cfg.Resend.NOP, cfg.Resend.DeliveryMode)
	if cfg.MQTT.Enabled() {
		logger.Info("MQTT: %s, Report: %s", cfg.MQTT.Broker, cfg.MQTT.ReportTopic)
	}
	return cfg, nil
}

func connectBroker(cfg *config.Config, logger *log.Logger) (broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerRedis:
		client, err := redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BrokerAMQP:
		conn, err := amqp.Dial(&cfg.AMQP, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, fmt.Errorf("unknown broker %q", cfg.Broker.Kind)
}

// connectFailure is the outcome of a run that never reached the source queue
func connectFailure(cfg *config.Config, err error, start time.Time) resend.Outcome {
	return resend.Outcome{
		Source:    cfg.Resend.FromQueue,
		Target:    cfg.Resend.ToQueue,
		Requested: cfg.Resend.Count,
		Result:    resend.BindFailed,
		Err:       fmt.Errorf("%w: %v", resend.ErrBind, err),
		Started:   start,
		Finished:  time.Now(),
	}
}

// publishReport sends the outcome when a report broker is configured. Failures are only logged.
func publishReport(cfg *config.Config, out resend.Outcome, logger *log.Logger) {
	if !cfg.MQTT.Enabled() {
		return
	}

	client, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		logger.Warn("Outcome report not published: %v", err)
		return
	}
	reporter := mqtt.NewReporter(client)
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Warn("Error closing MQTT client: %v", err)
		}
	}()

	// The run context may already be cancelled by a signal
	ctx, cancel := context.WithTimeout(context.Background(), cfg.MQTT.WriteTimeout)
	defer cancel()
	if err := reporter.Report(ctx, out); err != nil {
		logger.Warn("Outcome report not published: %v", err)
		return
	}
	logger.Debug("Outcome report published to %s", cfg.MQTT.ReportTopic)
}

func closeBroker(b broker, logger *log.Logger) {
	if err := b.Close(); err != nil {
		logger.Error("Error closing broker connection: %v", err)
	}
}

func main() {
	// Keep main minimal to ensure defers in run() execute correctly.
	os.Exit(run())
}
