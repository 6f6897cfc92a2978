package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/layerflow/layerflow-core/internal/autosave"
	"github.com/layerflow/layerflow-core/internal/infrastructure/mqtt"
	"github.com/layerflow/layerflow-core/internal/session"
)

const (
	defaultQueueSize      = 256
	defaultCommandTimeout = 30 * time.Second
	defaultQoS            = 1
)

// Client is the part of the MQTT client the bridge uses. *mqtt.Client
// satisfies it.
type Client interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Sessions resolves a workflow to its open session. *session.Registry
// satisfies it.
type Sessions interface {
	Get(ctx context.Context, workflowID string) (*session.Session, error)
}

// CommandMetrics records one sample per command. influxdb.Client satisfies it.
type CommandMetrics interface {
	WriteCommandMetric(workflowID, op string, ok bool)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the bridge settings. Client is required.
type Config struct {
	Client Client
	Topics mqtt.Topics

	// QoS for subscriptions and publishes; zero selects 1.
	QoS byte

	// CommandTimeout bounds opening a session and applying one command.
	CommandTimeout time.Duration

	// QueueSize bounds both the inbound and the outbound queue.
	QueueSize int

	Metrics CommandMetrics
	Logger  Logger
}

type inbound struct {
	workflowID string
	payload    []byte
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge routes session commands and events over MQTT.
type Bridge struct {
	client  Client
	topics  mqtt.Topics
	qos     byte
	timeout time.Duration
	metrics CommandMetrics
	logger  Logger

	in  chan inbound
	out chan outbound

	mu       sync.Mutex
	sessions Sessions
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a bridge. Call Start to begin routing.
func New(cfg Config) (*Bridge, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if cfg.QoS == 0 {
		cfg.QoS = defaultQoS
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	b := &Bridge{
		client:  cfg.Client,
		topics:  cfg.Topics,
		qos:     cfg.QoS,
		timeout: cfg.CommandTimeout,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		in:      make(chan inbound, cfg.QueueSize),
		out:     make(chan outbound, cfg.QueueSize),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	return b, nil
}

// Start subscribes to the command topics and starts the worker and
// publisher goroutines.
func (b *Bridge) Start(ctx context.Context, sessions Sessions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.sessions = sessions
	b.cancel = cancel

	b.wg.Add(2)
	go b.runCommands(runCtx)
	go b.runPublisher(runCtx)

	topic := b.topics.AllSessionCommands()
	if err := b.client.Subscribe(topic, b.qos, b.handleMessage); err != nil {
		cancel()
		b.wg.Wait()
		b.cancel = nil
		return fmt.Errorf("subscribe to session commands: %w", err)
	}
	b.logger.Info("session bus started", "topic", topic)
	return nil
}

// Stop unsubscribes, stops the worker and publishes whatever is still
// queued before returning.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return ErrNotStarted
	}

	if err := b.client.Unsubscribe(b.topics.AllSessionCommands()); err != nil {
		b.logger.Warn("unsubscribe from session commands failed", "error", err)
	}
	cancel()
	b.wg.Wait()
	b.logger.Info("session bus stopped")
	return nil
}

// handleMessage runs on the MQTT client's goroutine and only queues.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	workflowID, ok := b.topics.WorkflowFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	msg := inbound{workflowID: workflowID, payload: append([]byte(nil), payload...)}
	select {
	case b.in <- msg:
		return nil
	default:
		return fmt.Errorf("%w: dropped command for %s", ErrQueueFull, workflowID)
	}
}

func (b *Bridge) runCommands(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.in:
			b.execute(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) execute(ctx context.Context, msg inbound) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var res session.Result
	cmd, err := session.DecodeCommand(msg.payload)
	if err != nil {
		res = rejected(msg.payload, err)
	} else if s, getErr := b.sessions.Get(ctx, msg.workflowID); getErr != nil {
		res = session.Result{RequestID: cmd.RequestID, Op: cmd.Op, Error: getErr.Error()}
	} else {
		res = session.Execute(ctx, s, cmd)
	}

	if b.metrics != nil {
		b.metrics.WriteCommandMetric(msg.workflowID, res.Op, res.OK)
	}
	if !res.OK {
		b.logger.Warn("session command failed",
			"workflow_id", msg.workflowID,
			"op", res.Op,
			"request_id", res.RequestID,
			"error", res.Error,
		)
	} else {
		b.logger.Debug("session command applied",
			"workflow_id", msg.workflowID,
			"op", res.Op,
			"changed", res.Changed,
		)
	}
	b.enqueue(b.topics.SessionResult(msg.workflowID), res, false)
}

// rejected answers a command that did not decode, keeping whatever
// correlation fields could be read.
func rejected(payload []byte, err error) session.Result {
	var head struct {
		Op        string `json:"op"`
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(payload, &head) //nolint:errcheck // best effort
	return session.Result{RequestID: head.RequestID, Op: head.Op, Error: err.Error()}
}

// PublishState publishes a session's state. It is meant for
// session.Config.OnChange and never blocks.
func (b *Bridge) PublishState(st session.State) {
	b.enqueue(b.topics.SessionState(st.WorkflowID), st, true)
}

// PublishSaveStatus implements autosave.StatusPublisher.
func (b *Bridge) PublishSaveStatus(ev autosave.StatusEvent) {
	b.enqueue(b.topics.SessionSave(ev.WorkflowID), ev, true)
}

func (b *Bridge) enqueue(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to marshal bus message", "topic", topic, "error", err)
		return
	}
	select {
	case b.out <- outbound{topic: topic, payload: payload, retained: retained}:
	default:
		b.logger.Warn("bus publish queue full, message dropped", "topic", topic)
	}
}

func (b *Bridge) runPublisher(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case m := <-b.out:
			b.publish(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-b.out:
					b.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(m outbound) {
	if err := b.client.Publish(m.topic, m.payload, b.qos, m.retained); err != nil {
		b.logger.Warn("bus publish failed", "topic", m.topic, "error", err)
	}
}
