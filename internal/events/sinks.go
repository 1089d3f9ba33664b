package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

// Sink names accepted in configuration.
const (
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkAMQP  = "amqp"
)

const (
	// RedisChannel receives every event.
	RedisChannel = "voxmed:events"
	// AMQPExchange is the topic exchange events are published to, routed by
	// event type.
	AMQPExchange = "voxmed.events"
)

// ErrUnknownSink is returned by ParseSinkNames for an unsupported name.
var ErrUnknownSink = errors.New("events: unknown sink")

// ParseSinkNames splits a comma separated sink list, dropping blanks and
// duplicates.
func ParseSinkNames(value string) ([]string, error) {
	var (
		names []string
		seen  = make(map[string]bool)
		errs  []error
	)
	for _, raw := range strings.Split(value, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		switch name {
		case SinkLog, SinkRedis, SinkAMQP:
			seen[name] = true
			names = append(names, name)
		default:
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownSink, name))
		}
	}
	return names, errors.Join(errs...)
}

// DoctorChannel is the per-doctor Redis channel.
func DoctorChannel(doctorID string) string {
	return "voxmed:doctor:" + doctorID
}

// LogSink writes every event to the audit log.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", SinkLog).Logger()}
}

func (s *LogSink) Name() string { return SinkLog }

func (s *LogSink) Publish(_ context.Context, evt scheduler.Event) error {
	entry := s.logger.Info().
		Str("event_id", evt.ID).
		Str("event_type", string(evt.Type)).
		Str("aggregate_id", evt.AggregateID).
		Str("doctor_id", evt.DoctorID).
		Str("actor_id", evt.ActorID).
		Time("occurred_at", evt.OccurredAt)
	if evt.PatientID != "" {
		entry = entry.Str("patient_id", evt.PatientID)
	}
	if len(evt.Data) > 0 {
		entry = entry.Fields(map[string]any{"data": evt.Data})
	}
	entry.Msg("domain event")
	return nil
}

// redisPublisher is the part of a go-redis client the sink needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes JSON encoded events over Redis Pub/Sub.
type RedisSink struct {
	client redisPublisher
}

func NewRedisSink(client redisPublisher) *RedisSink {
	return &RedisSink{client: client}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("events: connect redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisSink) Name() string { return SinkRedis }

// Publish sends evt to RedisChannel and to the doctor's channel.
func (s *RedisSink) Publish(ctx context.Context, evt scheduler.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	channels := []string{RedisChannel}
	if evt.DoctorID != "" {
		channels = append(channels, DoctorChannel(evt.DoctorID))
	}

	var errs []error
	for _, channel := range channels {
		if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// amqpChannel is the part of *amqp.Channel the sink needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a topic exchange with the event type as the
// routing key.
type AMQPSink struct {
	channel  amqpChannel
	exchange string
	conn     *amqp.Connection
}

// NewAMQPSink declares exchange on channel.
func NewAMQPSink(channel amqpChannel, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = AMQPExchange
	}
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{channel: channel, exchange: exchange}, nil
}

// DialAMQP opens a connection and channel to url and declares AMQPExchange.
func DialAMQP(url string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: connect amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open amqp channel: %w", err)
	}
	sink, err := NewAMQPSink(channel, AMQPExchange)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	sink.conn = conn
	return sink, nil
}

func (s *AMQPSink) Name() string { return SinkAMQP }

func (s *AMQPSink) Publish(ctx context.Context, evt scheduler.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	err = s.channel.PublishWithContext(ctx, s.exchange, string(evt.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         string(evt.Type),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close releases the channel and, when the sink dialed it, the connection.
func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}
