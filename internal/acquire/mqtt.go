package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig locates the broker and topic a headset bridge publishes to.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Capacity int // samples kept per channel
}

// mqttPayload is one published chunk, one row per board channel.
type mqttPayload struct {
	Data [][]float64 `json:"data"`
}

// MQTTSource buffers samples a bridge publishes over MQTT and serves the
// newest of them as windows.
type MQTTSource struct {
	cfg       MQTTConfig
	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client

	mu        sync.Mutex
	rings     []*Ring
	streaming bool
}

// NewMQTTSource creates an unconnected source. An empty ClientID gets a
// random one.
func NewMQTTSource(cfg MQTTConfig) *MQTTSource {
	if cfg.ClientID == "" {
		cfg.ClientID = "neuroloop-" + uuid.NewString()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	return &MQTTSource{cfg: cfg, newClient: mqtt.NewClient}
}

// Prepare connects to the broker.
func (s *MQTTSource) Prepare(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	})

	client := s.newClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
	}
	s.client = client
	log.Printf("MQTT session prepared: %s as %s", s.cfg.Broker, s.cfg.ClientID)
	return nil
}

// Start subscribes to the sample topic.
func (s *MQTTSource) Start() error {
	if s.client == nil {
		return ErrNotPrepared
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	token := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.ingest(msg.Payload()); err != nil {
			log.Printf("MQTT sample dropped on %s: %v", msg.Topic(), err)
		}
	})
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.cfg.Topic, err)
	}

	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
	log.Printf("MQTT stream started: %s", s.cfg.Topic)
	return nil
}

// ingest appends one payload to the per-channel rings.
func (s *MQTTSource) ingest(payload []byte) error {
	var p mqttPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.rings) < len(p.Data) {
		s.rings = append(s.rings, NewRing(s.cfg.Capacity))
	}
	for ch, row := range p.Data {
		s.rings[ch].Write(row...)
	}
	return nil
}

// CurrentWindow returns what has arrived so far, up to n samples per channel.
func (s *MQTTSource) CurrentWindow(ctx context.Context, n int) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return nil, ErrNotStreaming
	}
	frame := make(Frame, len(s.rings))
	for ch, r := range s.rings {
		frame[ch] = r.Last(n)
	}
	return frame, nil
}

// Channels lists every channel seen on the topic so far.
func (s *MQTTSource) Channels() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.rings))
	for i := range out {
		out[i] = i
	}
	return out
}

// Stop unsubscribes. Buffered samples are kept until Release.
func (s *MQTTSource) Stop() error {
	s.mu.Lock()
	wasStreaming := s.streaming
	s.streaming = false
	s.mu.Unlock()
	if !wasStreaming || s.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waitToken(ctx, s.client.Unsubscribe(s.cfg.Topic)); err != nil {
		return fmt.Errorf("mqtt unsubscribe %s: %w", s.cfg.Topic, err)
	}
	return nil
}

// Release disconnects from the broker and drops buffered samples.
func (s *MQTTSource) Release() error {
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	s.mu.Lock()
	s.rings = nil
	s.mu.Unlock()
	log.Println("MQTT session released")
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
