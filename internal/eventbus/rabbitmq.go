package eventbus

import (
	"context"
	"fmt"

	"sampark/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const retryHeader = "x-retry-count"

// Channel is the subset of *amqp.Channel used by the bus.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Connection holds the RabbitMQ connection and channel.
type Connection struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	logger     *logrus.Logger
}

// Connect 建立 RabbitMQ 连接并声明自动化队列
func Connect(cfg config.RabbitMQConfig, logger *logrus.Logger) (*Connection, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareQueues(ch, cfg.EventsQueue, cfg.DeadLetterQueue, cfg.OutcomesQueue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	logger.WithFields(logrus.Fields{"host": cfg.Host, "port": cfg.Port}).Info("Connected to RabbitMQ")
	return &Connection{Connection: conn, Channel: ch, logger: logger}, nil
}

// Healthy reports whether the connection is still open.
func (c *Connection) Healthy() bool {
	return c != nil && c.Connection != nil && !c.Connection.IsClosed()
}

// Close closes the channel and connection.
func (c *Connection) Close() error {
	if c.Channel != nil {
		if err := c.Channel.Close(); err != nil {
			c.logger.Warnf("failed to close RabbitMQ channel: %v", err)
		}
	}
	if c.Connection != nil {
		if err := c.Connection.Close(); err != nil {
			return err
		}
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}

func declareQueues(ch Channel, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}
	return nil
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
