package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"flapguard/internal/config"
	"flapguard/internal/model"
)

var ErrNotConnected = errors.New("mqtt client not connected")

type MQTTClient struct {
	client       mqtt.Client
	cfg          config.MQTTConfig
	publishTopic string
	logger       *slog.Logger
}

func StartMQTT(ctx context.Context, cfg config.MQTTConfig, publishTopic string, out chan<- model.Message, logger *slog.Logger) (*MQTTClient, error) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil, nil
	}
	c := &MQTTClient{cfg: cfg, publishTopic: publishTopic, logger: logger}
	handler := func(_ mqtt.Client, m mqtt.Message) {
		msg, err := DecodeMessage(m.Payload(), "mqtt")
		if err != nil {
			if logger != nil {
				logger.Warn("mqtt message undecodable", "topic", m.Topic(), "err", err)
			}
			return
		}
		SendNonBlocking(ctx, out, msg, logger)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if cfg.Topic == "" {
			return
		}
		token := client.Subscribe(cfg.Topic, cfg.QoS, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			if logger != nil {
				logger.Error("mqtt subscribe failed", "topic", cfg.Topic, "err", err)
			}
			return
		}
		if logger != nil {
			logger.Info("mqtt subscribed", "broker", cfg.Broker, "topic", cfg.Topic)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
		}
	})

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	go func() {
		<-ctx.Done()
		c.client.Disconnect(250)
	}()
	return c, nil
}

func (c *MQTTClient) Publish(ctx context.Context, req model.Request) error {
	if c == nil || c.client == nil || !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if c.publishTopic == "" {
		return fmt.Errorf("mqtt publish: no topic configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	token := c.client.Publish(c.publishTopic, c.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", req.Type, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.logger != nil {
		c.logger.Info("request published", "type", req.Type, "topic", c.publishTopic)
	}
	return nil
}
