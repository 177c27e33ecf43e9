// Package events delivers core events to RabbitMQ and reacts to them.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trezcool/suriaral/core"
)

// AMQPPublisher publishes events as persistent JSON messages on a durable queue.
type AMQPPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ core.EventPublisher = (*AMQPPublisher)(nil)

func NewAMQPPublisher(conf *core.Config) *AMQPPublisher {
	return &AMQPPublisher{url: conf.AMQP.URL, queue: conf.AMQP.Queue}
}

// channel (re)opens the connection on demand.
func (pub *AMQPPublisher) channel() (*amqp.Channel, error) {
	if pub.ch != nil && !pub.ch.IsClosed() {
		return pub.ch, nil
	}
	if pub.conn == nil || pub.conn.IsClosed() {
		conn, err := amqp.Dial(pub.url)
		if err != nil {
			return nil, errors.Wrap(err, "dialing broker")
		}
		pub.conn = conn
	}
	ch, err := pub.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "opening channel")
	}
	if _, err := declareQueue(ch, pub.queue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	pub.ch = ch
	return ch, nil
}

func (pub *AMQPPublisher) Publish(ctx context.Context, evt core.Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	ch, err := pub.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", pub.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.OccurredAt,
		Type:         evt.Type,
		Body:         body,
	})
	return errors.Wrap(err, "publishing event")
}

func (pub *AMQPPublisher) Close() error {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.ch != nil {
		_ = pub.ch.Close()
		pub.ch = nil
	}
	if pub.conn != nil {
		err := pub.conn.Close()
		pub.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	return nil
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(name, true, false, false, false, nil)
	return q, errors.Wrap(err, "declaring queue")
}

func Encode(evt core.Event) ([]byte, error) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	return body, errors.Wrap(err, "encoding event")
}

func Decode(body []byte) (core.Event, error) {
	var evt core.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return core.Event{}, errors.Wrap(err, "decoding event")
	}
	if evt.Type == "" {
		return core.Event{}, errors.New("decoding event: missing type")
	}
	return evt, nil
}
