package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/lawnchairsociety/questengine/internal/logger"
	"github.com/lawnchairsociety/questengine/internal/quest"
)

// Channel is the part of *amqp.Channel the broker publishes through.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// brokerBuffer bounds notifications waiting to be published.
const brokerBuffer = 256

// Broker publishes notifications as JSON to a topic exchange with routing
// key "quest.<kind>". Publishing happens on a background goroutine; when
// the buffer is full new notifications are dropped and logged.
type Broker struct {
	channel  Channel
	exchange string
	conn     *amqp.Connection

	queue     chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewBroker dials url and declares a durable topic exchange.
func NewBroker(url, exchange string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	b := NewBrokerWithChannel(ch, exchange)
	b.conn = conn
	return b, nil
}

// NewBrokerWithChannel publishes through an existing channel.
func NewBrokerWithChannel(ch Channel, exchange string) *Broker {
	b := &Broker{
		channel:  ch,
		exchange: exchange,
		queue:    make(chan Message, brokerBuffer),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Close publishes what is buffered and closes the connection.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() { close(b.queue) })
	<-b.done
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Broker) run() {
	defer close(b.done)
	for msg := range b.queue {
		if err := b.publish(msg); err != nil {
			logger.Error("Failed to publish notification", "kind", msg.Kind, "player", msg.PlayerID, "error", err)
		}
	}
}

func (b *Broker) publish(msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.channel.Publish(
		b.exchange,                // exchange
		"quest."+string(msg.Kind), // routing key
		false,                     // mandatory
		false,                     // immediate
		amqp.Publishing{
			ContentType:     "application/json",
			ContentEncoding: "utf-8",
			MessageId:       msg.ID,
			Body:            body,
			DeliveryMode:    amqp.Persistent,
			Timestamp:       time.Now(),
		},
	)
}

func (b *Broker) enqueue(msg Message) {
	defer func() {
		// Sending after Close panics; the notification is dropped.
		if recover() != nil {
			logger.Warning("Notification after broker close", "kind", msg.Kind)
		}
	}()
	select {
	case b.queue <- msg:
	default:
		logger.Warning("Notification buffer full, dropping", "kind", msg.Kind, "player", msg.PlayerID)
	}
}

func (b *Broker) QuestStarted(playerID string, questID quest.ID) {
	b.enqueue(newMessage(KindQuestStarted, playerID, questID))
}

func (b *Broker) ObjectiveComplete(playerID string, questID quest.ID, objectiveID string) {
	msg := newMessage(KindObjectiveComplete, playerID, questID)
	msg.ObjectiveID = objectiveID
	b.enqueue(msg)
}

func (b *Broker) QuestComplete(playerID string, questID quest.ID) {
	b.enqueue(newMessage(KindQuestComplete, playerID, questID))
}

func (b *Broker) RewardDeferred(playerID string, questID quest.ID, undelivered quest.Reward) {
	msg := newMessage(KindRewardDeferred, playerID, questID)
	msg.Undelivered = &undelivered
	b.enqueue(msg)
}
