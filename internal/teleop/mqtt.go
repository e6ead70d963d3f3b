package teleop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/malina-robot/malina/internal/config"
	"github.com/malina-robot/malina/internal/debug"
)

// Topic suffixes below the configured prefix.
const (
	TopicSteering = "steering"
	TopicSpeed    = "speed"
	TopicMove     = "move"
	TopicLight    = "light"
	TopicServo    = "servo"
	TopicStatus   = "status"
)

const (
	reconnectInterval = 5 * time.Second
	disconnectQuiesce = 250 // ms
)

// Command is the JSON payload of the steering and speed topics.
type Command struct {
	Action string `json:"action"`
	Value  int    `json:"value,omitempty"`
}

// publisher is the part of mqtt.Client used to report status.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTBridge subscribes to command topics and publishes the robot status
// after every command.
type MQTTBridge struct {
	cfg  config.MQTTConfig
	disp *Dispatcher
	ctx  context.Context
}

// NewMQTTBridge creates a bridge for cfg. Nothing connects until Run.
func NewMQTTBridge(cfg config.MQTTConfig, d *Dispatcher) *MQTTBridge {
	return &MQTTBridge{cfg: cfg, disp: d, ctx: context.Background()}
}

func (b *MQTTBridge) topic(suffix string) string {
	return strings.TrimSuffix(b.cfg.TopicPrefix, "/") + "/" + suffix
}

// Run connects to the broker, retrying every 5 s, and serves commands
// until ctx is done.
func (b *MQTTBridge) Run(ctx context.Context) error {
	b.ctx = ctx
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", b.cfg.Broker, b.cfg.Port))
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInterval)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		debug.Info("MQTT: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	debug.Info("MQTT: connecting to %s:%d", b.cfg.Broker, b.cfg.Port)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect(disconnectQuiesce)
		return nil
	}

	<-ctx.Done()
	client.Disconnect(disconnectQuiesce)
	debug.Info("MQTT: disconnected")
	return nil
}

// onConnect (re)subscribes every command topic.
func (b *MQTTBridge) onConnect(c mqtt.Client) {
	debug.Info("MQTT: connected")
	filters := map[string]byte{
		b.topic(TopicSteering): 1,
		b.topic(TopicSpeed):    1,
		b.topic(TopicMove):     1,
		b.topic(TopicLight):    1,
		b.topic(TopicServo):    1,
	}
	token := c.SubscribeMultiple(filters, func(c mqtt.Client, msg mqtt.Message) {
		b.handleMessage(c, msg)
	})
	if token.Wait() && token.Error() != nil {
		debug.Error(fmt.Errorf("mqtt subscribe: %w", token.Error()))
		return
	}
	b.publishStatus(c)
}

// handleMessage runs one command. Measured moves and light fades run on
// their own goroutine so the client keeps serving the other topics meanwhile.
func (b *MQTTBridge) handleMessage(p publisher, msg mqtt.Message) {
	topic := msg.Topic()
	var err error
	switch topic {
	case b.topic(TopicSteering):
		var cmd Command
		if err = json.Unmarshal(msg.Payload(), &cmd); err == nil {
			err = b.disp.Steer(cmd.Action)
		}
	case b.topic(TopicSpeed):
		var cmd Command
		if err = json.Unmarshal(msg.Payload(), &cmd); err == nil {
			_, err = b.disp.Speed(cmd.Action, cmd.Value)
		}
	case b.topic(TopicMove):
		var m Move
		if err = json.Unmarshal(msg.Payload(), &m); err == nil {
			if err = m.Validate(); err == nil {
				go func() {
					if err := b.disp.Measured(b.ctx, m); err != nil {
						debug.Error(fmt.Errorf("mqtt %s: %w", topic, err))
					}
					b.publishStatus(p)
				}()
				return
			}
		}
	case b.topic(TopicLight):
		var cmd Accessory
		if err = json.Unmarshal(msg.Payload(), &cmd); err == nil {
			if cmd.IsFade() {
				go func() {
					if _, err := b.disp.Light(b.ctx, cmd); err != nil {
						debug.Error(fmt.Errorf("mqtt %s: %w", topic, err))
					}
				}()
				return
			}
			_, err = b.disp.Light(b.ctx, cmd)
		}
	case b.topic(TopicServo):
		var cmd Accessory
		if err = json.Unmarshal(msg.Payload(), &cmd); err == nil {
			_, err = b.disp.Servo(cmd)
		}
	default:
		err = fmt.Errorf("unexpected topic")
	}
	if err != nil {
		debug.Error(fmt.Errorf("mqtt %s: %w", topic, err))
	}
	b.publishStatus(p)
}

func (b *MQTTBridge) publishStatus(p publisher) {
	payload, err := json.Marshal(b.disp.Status())
	if err != nil {
		debug.Error(err)
		return
	}
	token := p.Publish(b.topic(TopicStatus), 0, true, payload)
	if token.Wait() && token.Error() != nil {
		debug.Error(fmt.Errorf("mqtt publish status: %w", token.Error()))
	}
}
