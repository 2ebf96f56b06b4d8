package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prisoners-dilemma/internal/config"
	"github.com/prisoners-dilemma/internal/domain"
)

// MoveHandler processes move submissions
type MoveHandler interface {
	SubmitMove(ctx context.Context, req domain.SubmitMoveRequest) (*domain.MoveOutcome, error)
}

// Consumer consumes move messages from Kafka
type Consumer struct {
	config         *config.KafkaConfig
	processor      *moveProcessor
	logger         *slog.Logger
	consumerGroup  sarama.ConsumerGroup
	startupTimeout time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler MoveHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}
	return newConsumer(cfg, consumerGroup, handler, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, group sarama.ConsumerGroup, handler MoveHandler, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:         cfg,
		processor:      newMoveProcessor(handler, cfg, logger),
		logger:         logger,
		consumerGroup:  group,
		startupTimeout: defaultStartupTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

const defaultStartupTimeout = 30 * time.Second

// Start joins the consumer group and returns once the first session is set
// up. It fails if joining errors or takes longer than the startup timeout;
// the consumer is closed in that case.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.MovesTopic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan struct{})
	joinErr := make(chan error, 1)
	handler := &consumerGroupHandler{processor: c.processor, ready: ready}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			err := c.consumerGroup.Consume(c.ctx, []string{c.config.MovesTopic}, handler)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || c.ctx.Err() != nil {
				return
			}
			if err == nil {
				// rebalance; rejoin
				continue
			}

			c.logger.Error("error from consumer", "error", err)
			select {
			case joinErr <- err:
			default:
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.config.RetryDelay):
			}
		}
	}()

	timer := time.NewTimer(c.startupTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case err := <-joinErr:
		c.abort()
		return fmt.Errorf("joining consumer group: %w", err)
	case <-timer.C:
		c.abort()
		return fmt.Errorf("joining consumer group: no session after %s", c.startupTimeout)
	}
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

func (c *Consumer) abort() {
	c.cancel()
	c.wg.Wait()
	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Warn("failed to close consumer group", "error", err)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	processor *moveProcessor
	ready     chan struct{}
	readyOnce sync.Once
}

// Setup runs at the start of every session; only the first one signals ready
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.readyOnce.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim submits moves one at a time, in partition order. Moves are
// keyed by game, so both moves of a game arrive on the same partition.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processor.process(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}

// moveProcessor decodes and submits a single move message
type moveProcessor struct {
	handler MoveHandler
	config  *config.KafkaConfig
	logger  *slog.Logger
}

func newMoveProcessor(handler MoveHandler, cfg *config.KafkaConfig, logger *slog.Logger) *moveProcessor {
	return &moveProcessor{handler: handler, config: cfg, logger: logger}
}

// process never fails: rejected moves are logged and skipped, and a storage
// outage is retried a bounded number of times before the move is dropped.
func (p *moveProcessor) process(ctx context.Context, message *sarama.ConsumerMessage) {
	req, err := DecodeMove(message.Value)
	if err != nil {
		p.logger.Warn("failed to decode move message",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return
	}

	attempts := p.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		outcome, err := p.handler.SubmitMove(callCtx, req)
		cancel()

		if err == nil {
			p.logger.Debug("processed move",
				"game_id", outcome.GameID,
				"player", outcome.PlayerName,
				"status", outcome.Status,
			)
			return
		}

		if domain.KindOf(err) != domain.KindStorageUnavailable {
			p.logger.Warn("move rejected",
				"game_id", req.GameID,
				"player", req.PlayerName,
				"error", err,
			)
			return
		}

		p.logger.Warn("move failed, retrying",
			"game_id", req.GameID,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.config.RetryDelay):
		}
	}

	p.logger.Error("dropping move after retries",
		"game_id", req.GameID,
		"player", req.PlayerName,
	)
}

// DecodeMove parses a move message and checks its required fields
func DecodeMove(data []byte) (domain.SubmitMoveRequest, error) {
	var req domain.SubmitMoveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, err
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
