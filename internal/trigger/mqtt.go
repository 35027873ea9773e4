package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"calwake/internal/config"
)

// dismissMessage 驳回信号载荷
type dismissMessage struct {
	RequestCode int32 `json:"request_code"`
}

// timezoneMessage 时区变更信号载荷
type timezoneMessage struct {
	TimezoneID string `json:"timezone_id"`
}

// MQTTConsumer 设备信号消费者（驳回、时区变更）
type MQTTConsumer struct {
	client        mqtt.Client
	engine        Reconciler
	dismissTopic  string
	timezoneTopic string
	qos           byte
	logger        *zap.Logger
}

// NewMQTTConsumer 创建 MQTT 信号消费者并连接 broker
func NewMQTTConsumer(cfg *config.Config, engine Reconciler, logger *zap.Logger) (*MQTTConsumer, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTConsumer{
		client:        client,
		engine:        engine,
		dismissTopic:  cfg.Reconcile.DismissTopic,
		timezoneTopic: cfg.Reconcile.TimezoneTopic,
		qos:           cfg.MQTT.QoS,
		logger:        logger,
	}, nil
}

// Start 订阅驳回与时区变更主题
func (m *MQTTConsumer) Start(ctx context.Context) error {
	if token := m.client.Subscribe(m.dismissTopic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		m.handleDismiss(ctx, msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", m.dismissTopic, token.Error())
	}

	if token := m.client.Subscribe(m.timezoneTopic, m.qos, func(_ mqtt.Client, msg mqtt.Message) {
		m.handleTimezone(ctx, msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", m.timezoneTopic, token.Error())
	}

	m.logger.Info("MQTT signal consumer started",
		zap.String("dismiss_topic", m.dismissTopic),
		zap.String("timezone_topic", m.timezoneTopic),
	)

	return nil
}

func (m *MQTTConsumer) handleDismiss(ctx context.Context, payload []byte) {
	var msg dismissMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.logger.Error("Invalid dismissal payload",
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return
	}

	if err := m.engine.HandleDismissal(ctx, msg.RequestCode); err != nil {
		m.logger.Error("Failed to handle dismissal",
			zap.Int32("request_code", msg.RequestCode),
			zap.Error(err),
		)
	}
}

func (m *MQTTConsumer) handleTimezone(ctx context.Context, payload []byte) {
	var msg timezoneMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.logger.Error("Invalid timezone payload",
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return
	}

	if err := m.engine.HandleTimezoneChange(ctx, msg.TimezoneID); err != nil {
		m.logger.Error("Failed to handle timezone change",
			zap.String("timezone_id", msg.TimezoneID),
			zap.Error(err),
		)
	}
}

// Stop 断开 MQTT 连接
func (m *MQTTConsumer) Stop() {
	m.client.Disconnect(250)
}
