package events

import (
	"context"
	"fmt"

	"github.com/trezcool/suriaral/core"
)

// LoggingPublisher writes events to the logger instead of a broker.
type LoggingPublisher struct {
	logger core.Logger
}

var _ core.EventPublisher = (*LoggingPublisher)(nil)

func NewLoggingPublisher(logger core.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (pub *LoggingPublisher) Publish(_ context.Context, evt core.Event) error {
	msg := fmt.Sprintf("event %s subject=%s", evt.Type, evt.Subject)
	if evt.Actor != "" {
		msg += " actor=" + evt.Actor
	}
	if len(evt.Data) > 0 {
		pub.logger.Info(msg, evt.Data)
	} else {
		pub.logger.Info(msg)
	}
	return nil
}

// NewPublisher returns the AMQP publisher when it is enabled, the logging one otherwise.
func NewPublisher(conf *core.Config, logger core.Logger) core.EventPublisher {
	if conf.AMQP.Enabled {
		return NewAMQPPublisher(conf)
	}
	return NewLoggingPublisher(logger)
}
