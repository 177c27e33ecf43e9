package events

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/identity"
)

const maxBackoff = 30 * time.Second

// Handler reacts to one event. An error rejects the message without requeueing it.
type Handler func(ctx context.Context, evt core.Event) error

type Consumer struct {
	url     string
	queue   string
	handler Handler
	logger  core.Logger
}

func NewConsumer(conf *core.Config, handler Handler, logger core.Logger) *Consumer {
	return &Consumer{url: conf.AMQP.URL, queue: conf.AMQP.Queue, handler: handler, logger: logger}
}

// Run consumes until ctx is done, reconnecting with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err == nil {
			backoff = time.Second
			err = c.consume(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn(fmt.Sprintf("event consumer stopped: %v; reconnecting", err), err)
		} else {
			c.logger.Warn(fmt.Sprintf("event consumer: dialing broker: %v; retrying in %s", err, backoff), err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "opening channel")
	}
	defer ch.Close()

	if err := ch.Qos(20, 0, false); err != nil {
		c.logger.Warn(fmt.Sprintf("event consumer: setting QoS: %v", err), err)
	}
	if _, err := declareQueue(ch, c.queue); err != nil {
		return err
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consuming queue")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	evt, err := Decode(d.Body)
	if err == nil {
		err = c.handler(ctx, evt)
	}
	if err != nil {
		c.logger.Error(fmt.Sprintf("handling event %s: %v", d.MessageId, err), err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// FacultyReconciler is satisfied by *account.Service.
type FacultyReconciler interface {
	EnsureFacultyRecord(ctx context.Context, ident identity.Identity, role access.Role) (core.Outcome, error)
}

// NewAccountHandler reconciles the faculty record of accounts whose role changed
// and logs every other event.
func NewAccountHandler(svc FacultyReconciler, logger core.Logger) Handler {
	return func(ctx context.Context, evt core.Event) error {
		if evt.Type != core.EventRoleChanged {
			logger.Debug(fmt.Sprintf("event %s subject=%s", evt.Type, evt.Subject))
			return nil
		}
		to, _ := evt.Data["to"].(string)
		role, err := access.ParseRole(to)
		if err != nil {
			return errors.Wrapf(err, "role change of %s", evt.Subject)
		}
		outcome, err := svc.EnsureFacultyRecord(ctx, identity.Identity{UID: evt.Subject}, role)
		if err != nil {
			return err
		}
		if outcome == core.Applied {
			logger.Info(fmt.Sprintf("faculty record of %s repaired after role change", evt.Subject))
		}
		return nil
	}
}
