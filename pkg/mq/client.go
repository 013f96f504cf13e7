// Package mq provides a RabbitMQ publisher with automatic
// reconnection, used to announce finished import jobs.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/telemetry-import/pkg/metrics"
)

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Initial backoff delay for Publish retries.
	initialBackoff = 100 * time.Millisecond

	// Maximum backoff delay for Publish retries.
	maxBackoff = 10 * time.Second

	// Backoff multiplier for exponential backoff.
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5
)

var (
	errShutdown           = errors.New("publisher is shutting down")
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Publisher is a RabbitMQ publisher that manages its connection in
// the background and confirms every publish.
type Publisher struct {
	m               *sync.Mutex
	log             *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan bool
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	isReady         bool
	isClosed        bool
	metrics         *metrics.MQMetrics // Optional metrics
}

// NewPublisher creates a publisher for the given queue and starts
// connecting in the background.
func NewPublisher(queueName, addr string, l *slog.Logger) *Publisher {
	p := Publisher{
		m:         &sync.Mutex{},
		log:       l,
		queueName: queueName,
		done:      make(chan bool),
	}
	go p.handleReconnect(addr)
	return &p
}

// SetMetrics sets the metrics collector for this publisher. Call it
// before the first Publish.
func (p *Publisher) SetMetrics(m *metrics.MQMetrics) {
	p.metrics = m
}

// handleReconnect dials until a connection sticks, then re-dials on
// every connection close until shutdown.
func (p *Publisher) handleReconnect(addr string) {
	for {
		p.m.Lock()
		p.isReady = false
		p.m.Unlock()

		p.log.Info("attempting to connect")

		if p.metrics != nil {
			p.metrics.ReconnectAttempts.Inc()
		}

		conn, err := p.connect(addr)
		if err != nil {
			p.log.Error("failed to connect, retrying", "error", err)

			select {
			case <-p.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := p.handleReInit(conn); done {
			break
		}
	}
}

func (p *Publisher) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	p.connection = conn
	p.notifyConnClose = make(chan *amqp.Error, 1)
	p.connection.NotifyClose(p.notifyConnClose)

	p.log.Info("connected")
	if p.metrics != nil {
		p.metrics.ConnectionStatus.Set(1)
	}
	return conn, nil
}

// handleReInit re-initializes the channel after channel exceptions
// until the connection itself closes or the publisher shuts down.
func (p *Publisher) handleReInit(conn *amqp.Connection) bool {
	for {
		p.m.Lock()
		p.isReady = false
		p.m.Unlock()

		if err := p.init(conn); err != nil {
			p.log.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-p.done:
				return true
			case <-p.notifyConnClose:
				p.log.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-p.done:
			return true
		case <-p.notifyConnClose:
			p.log.Info("connection closed, reconnecting")
			return false
		case <-p.notifyChanClose:
			p.log.Info("channel closed, re-running init")
		}
	}
}

// init opens the channel, enables publish confirms and declares the
// queue.
func (p *Publisher) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	_, err = ch.QueueDeclare(
		p.queueName,
		true,  // Durable: summaries survive a broker restart
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		return err
	}

	p.channel = ch
	p.notifyChanClose = make(chan *amqp.Error, 1)
	p.notifyConfirm = make(chan amqp.Confirmation, 1)
	p.channel.NotifyClose(p.notifyChanClose)
	p.channel.NotifyPublish(p.notifyConfirm)

	p.m.Lock()
	p.isReady = true
	p.m.Unlock()
	p.log.Info("publisher ready")

	return nil
}

// Publish pushes data onto the queue and waits for a broker
// confirmation, retrying with exponential backoff while the
// connection recovers. After maxRetryAttempts failures it gives up.
func (p *Publisher) Publish(ctx context.Context, data []byte) error {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.PushDuration.WithLabelValues(p.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			if p.metrics != nil {
				p.metrics.PushFailures.WithLabelValues(p.queueName, "max_retries_exceeded").Inc()
			}
			return errMaxRetriesExceeded
		}

		p.m.Lock()
		ready := p.isReady
		p.m.Unlock()

		if !ready {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff = nextBackoff(backoff)
				continue
			}
		}

		if err := p.publishOnce(ctx, data); err != nil {
			p.log.Error("publish failed, retrying", "error", err, "attempt", attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff = nextBackoff(backoff)
				continue
			}
		}

		select {
		case <-ctx.Done():
			if p.metrics != nil {
				p.metrics.PushFailures.WithLabelValues(p.queueName, "context_canceled").Inc()
			}
			return ctx.Err()
		case confirm := <-p.notifyConfirm:
			if confirm.Ack {
				if p.metrics != nil {
					p.metrics.MessagesPushed.WithLabelValues(p.queueName).Inc()
				}
				p.log.Debug("publish confirmed", "delivery_tag", confirm.DeliveryTag)
				return nil
			}
			p.log.Warn("publish not acknowledged, retrying", "attempt", attempt)
			backoff = nextBackoff(backoff)
		}
	}
}

// publishOnce sends one message without waiting for the confirm.
func (p *Publisher) publishOnce(ctx context.Context, data []byte) error {
	p.m.Lock()
	defer p.m.Unlock()
	if !p.isReady {
		return errNotConnected
	}
	return p.channel.PublishWithContext(
		ctx,
		"",          // Exchange
		p.queueName, // Routing key
		false,       // Mandatory
		false,       // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         data,
		},
	)
}

func nextBackoff(d time.Duration) time.Duration {
	d *= backoffMultiplier
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Close cleanly shuts down the channel and connection.
func (p *Publisher) Close() error {
	p.m.Lock()
	defer p.m.Unlock()

	if p.isClosed {
		return errAlreadyClosed
	}
	p.isClosed = true
	close(p.done)

	if p.connection == nil || p.connection.IsClosed() {
		return nil
	}

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return err
		}
	}
	if err := p.connection.Close(); err != nil {
		return err
	}

	p.isReady = false
	return nil
}
