package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/jiaweing/IoT-Quiz/internal/app"
	"github.com/jiaweing/IoT-Quiz/internal/domain"
	"github.com/jiaweing/IoT-Quiz/internal/transport"
	membus "github.com/jiaweing/IoT-Quiz/internal/transport/memory"
)

// Config carries the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Bridge connects the quiz bus to an external MQTT broker: every engine
// event is republished at QoS 1, and join/response topics from handheld
// devices are fed into the engine. It keeps its own authorized-identity set
// so only devices that completed a join can publish responses.
type Bridge struct {
	client paho.Client
	engine *app.Engine
	bus    *membus.Bus

	mu         sync.Mutex
	authorized map[string]struct{}
}

func NewBridge(cfg Config, engine *app.Engine, bus *membus.Bus) *Bridge {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true)
	return &Bridge{
		client:     paho.NewClient(opts),
		engine:     engine,
		bus:        bus,
		authorized: make(map[string]struct{}),
	}
}

type joinMessage struct {
	SessionID string `json:"sessionId"`
	Auth      string `json:"auth"`
	Identity  string `json:"identity"`
	Name      string `json:"name"`
}

type responseMessage struct {
	Identity   string   `json:"identity"`
	QuestionID string   `json:"questionId"`
	OptionID   string   `json:"optionId,omitempty"`
	OptionIDs  []string `json:"optionIds,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// Start connects to the broker, subscribes the inbound topics and forwards
// bus traffic until ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	if token := b.client.Subscribe(transport.TopicJoin, 1, b.handleJoin); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", transport.TopicJoin, token.Error())
	}
	if token := b.client.Subscribe(transport.TopicResponse, 1, b.handleResponse); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", transport.TopicResponse, token.Error())
	}

	updates, cancel := b.bus.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				b.client.Disconnect(250)
				return
			case msg, ok := <-updates:
				if !ok {
					return
				}
				token := b.client.Publish(msg.Topic, 1, false, msg.Payload)
				token.Wait()
				if err := token.Error(); err != nil {
					log.Printf("mqtt: publish %s: %v", msg.Topic, err)
				}
			}
		}
	}()
	log.Printf("mqtt bridge connected to broker")
	return nil
}

func (b *Bridge) handleJoin(_ paho.Client, msg paho.Message) {
	var join joinMessage
	if err := json.Unmarshal(msg.Payload(), &join); err != nil {
		log.Printf("mqtt: bad join payload: %v", err)
		return
	}
	if _, err := b.engine.AuthorizeJoin(context.Background(), join.SessionID, join.Auth, join.Identity, join.Name); err != nil {
		// Rejections stay silent on the wire; the engine logged the reason.
		return
	}
	b.mu.Lock()
	b.authorized[join.Identity] = struct{}{}
	b.mu.Unlock()
}

func (b *Bridge) handleResponse(_ paho.Client, msg paho.Message) {
	var resp responseMessage
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
		log.Printf("mqtt: bad response payload: %v", err)
		return
	}
	b.mu.Lock()
	_, ok := b.authorized[resp.Identity]
	b.mu.Unlock()
	if !ok {
		log.Printf("[SECURITY] blocked response from unauthorized mqtt client %s", resp.Identity)
		return
	}
	var selection domain.Selection
	switch {
	case resp.OptionID != "":
		selection = domain.SingleChoice{OptionID: resp.OptionID}
	case resp.OptionIDs != nil:
		// An empty array is a real answer (select nothing).
		selection = domain.MultiChoice{OptionIDs: resp.OptionIDs}
	default:
		log.Printf("mqtt: response from %s carries no selection", resp.Identity)
		return
	}
	b.engine.SubmitResponse(context.Background(), resp.Identity, resp.QuestionID, selection, resp.Timestamp)
}
