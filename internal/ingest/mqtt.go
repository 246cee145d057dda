package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"track-svr/internal/observability"
	"track-svr/internal/utilities"
)

const mqttTimeout = 10 * time.Second

// MQTTSubscriber ingests fixes published on <prefix>/<device_id>/fix. The
// payload is a JSON Report; the device id comes from the topic.
type MQTTSubscriber struct {
	broker   string
	clientID string
	prefix   string
	writer   *Writer
	loc      *time.Location
	raw      *utilities.RawLog
	logger   *slog.Logger
	now      func() time.Time
}

func NewMQTTSubscriber(broker, clientID, prefix string, w *Writer, loc *time.Location, raw *utilities.RawLog, logger *slog.Logger) *MQTTSubscriber {
	if loc == nil {
		loc = time.Local
	}
	return &MQTTSubscriber{
		broker:   broker,
		clientID: clientID,
		prefix:   strings.TrimSuffix(prefix, "/"),
		writer:   w,
		loc:      loc,
		raw:      raw,
		logger:   logger.With("component", "ingest-mqtt"),
		now:      time.Now,
	}
}

func (s *MQTTSubscriber) Topic() string { return s.prefix + "/+/fix" }

// Run connects, subscribes and blocks until ctx is done.
func (s *MQTTSubscriber) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(s.clientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			// resubscribe after every (re)connect
			token := c.Subscribe(s.Topic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
				s.handle(ctx, msg)
			})
			if token.WaitTimeout(mqttTimeout) && token.Error() != nil {
				s.logger.Error("mqtt subscribe failed", "topic", s.Topic(), "err", token.Error())
				return
			}
			s.logger.Info("mqtt subscribed", "topic", s.Topic())
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("mqtt connect %s: timed out", s.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.broker, err)
	}
	s.logger.Info("connected to MQTT broker", "broker", s.broker)

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

// deviceFromTopic extracts <device_id> from <prefix>/<device_id>/fix.
func (s *MQTTSubscriber) deviceFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/")
	if !ok {
		return "", false
	}
	dev, ok := strings.CutSuffix(rest, "/fix")
	if !ok || dev == "" || strings.Contains(dev, "/") {
		return "", false
	}
	return dev, true
}

func (s *MQTTSubscriber) handle(ctx context.Context, msg mqtt.Message) {
	if err := s.raw.CreateLog("MQTT", msg.Topic()+" "+string(msg.Payload())); err != nil {
		s.logger.Warn("raw log failed", "err", err)
	}

	dev, ok := s.deviceFromTopic(msg.Topic())
	if !ok {
		observability.ParseErrors.WithLabelValues("mqtt").Inc()
		s.logger.Warn("unexpected topic", "topic", msg.Topic())
		return
	}

	var rep Report
	if err := json.Unmarshal(msg.Payload(), &rep); err != nil {
		observability.ParseErrors.WithLabelValues("mqtt").Inc()
		s.logger.Warn("mqtt payload unmarshal error", "topic", msg.Topic(), "err", err)
		return
	}
	rep.DeviceID = dev

	f, err := rep.Fix(s.loc, s.now())
	if err != nil {
		observability.ParseErrors.WithLabelValues("mqtt").Inc()
		s.logger.Warn("mqtt report rejected", "device", dev, "err", err)
		return
	}
	if _, err := s.writer.Write(ctx, "mqtt", f); err != nil {
		s.logger.Error("write fix failed", "device", dev, "err", err)
	}
}
