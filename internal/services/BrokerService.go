// This file contains the implementation of BrokerService. This service owns the connection to the AMQP message broker
// shared by the render client and the event publisher.
//
// This service expects a RabbitMQ AMQP 0.9.1 broker to be running on the configured host. The service connects to the
// broker, declares the RPC and events queues, and reconnects on demand if the connection is lost. Renderer calls are
// never retried: a call that fails because the connection dropped is reported to the caller, and only the next call
// reconnects.

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/config"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
)

// Event types published on the events queue.
const (
	EventTrainingFinished   = "training_finished"
	EventSnapshotSaved      = "snapshot_saved"
	EventEvaluationFinished = "evaluation_finished"
	EventScreenshotWritten  = "screenshot_written"
)

// ConnectTimeout bounds the initial dial retries.
var ConnectTimeout = time.Minute / 4

// Event is the envelope of every published event.
type Event struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id"`
	Scene   string    `json:"scene,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// EventPublisher publishes run events.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops events. Used when a harness is built without an event sink.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type BrokerService struct {
	cfg        config.BrokerConfig
	connection *amqp.Connection
	channel    *amqp.Channel
	logger     *log.Logger
	mu         sync.Mutex
}

// NewBrokerService connects to the broker and declares the queues.
func NewBrokerService(cfg config.BrokerConfig, logger *log.Logger) (*BrokerService, error) {
	s := &BrokerService{
		cfg:    cfg,
		logger: logger,
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// connect establishes a connection to the AMQP message broker and declares the necessary queues
func (s *BrokerService) connect() error {
	timeout := time.Now().Add(ConnectTimeout)
	var err error

	for time.Now().Before(timeout) {
		s.connection, err = amqp.Dial(s.cfg.URL())
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	s.channel, err = s.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %v", err)
	}

	for _, queue := range []string{s.cfg.RPCQueue, s.cfg.EventsQueue} {
		_, err = s.channel.QueueDeclare(queue, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %v", queue, err)
		}
	}

	s.logger.Infow("connected to broker", "host", s.cfg.Host, "rpc_queue", s.cfg.RPCQueue, "events_queue", s.cfg.EventsQueue)
	return nil
}

// ensureConnection ensures that the AMQP connection is established
func (s *BrokerService) ensureConnection() error {
	if s.connection != nil && !s.connection.IsClosed() && s.channel != nil && !s.channel.IsClosed() {
		return nil
	}

	s.logger.Info("Reconnecting to RabbitMQ...")
	return s.connect()
}

// Channel opens a fresh channel on the shared connection, reconnecting first if needed.
func (s *BrokerService) Channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureConnection(); err != nil {
		return nil, fmt.Errorf("failed to ensure connection: %v", err)
	}
	return s.connection.Channel()
}

// RPCQueue is the queue render requests are published to.
func (s *BrokerService) RPCQueue() string { return s.cfg.RPCQueue }

// Publish sends an event to the events queue as JSON.
func (s *BrokerService) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %v", e.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureConnection(); err != nil {
		return fmt.Errorf("failed to ensure connection: %v", err)
	}
	err = s.channel.PublishWithContext(ctx, "", s.cfg.EventsQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   e.Time,
		Type:        e.Type,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %v", e.Type, err)
	}
	s.logger.Debugw("event published", "type", e.Type, "run_id", e.RunID)
	return nil
}

// Shutdown closes the broker connection
func (s *BrokerService) Shutdown() {
	s.logger.Info("Shutting down AMQP service...")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connection != nil {
		s.connection.Close()
	}
	s.logger.Info("AMQP service shut down")
}
