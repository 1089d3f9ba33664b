package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

func sampleEvent() scheduler.Event {
	return scheduler.Event{
		ID:          "evt-1",
		Type:        scheduler.EventAppointmentCreated,
		AggregateID: "appointment-1",
		DoctorID:    "doctor-001",
		PatientID:   "patient-001",
		ActorID:     "patient-001",
		OccurredAt:  time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC),
		Data:        map[string]string{"status": "scheduled"},
	}
}

func TestParseSinkNames(t *testing.T) {
	names, err := ParseSinkNames(" log, Redis,,log ,amqp")
	require.NoError(t, err)
	assert.Equal(t, []string{SinkLog, SinkRedis, SinkAMQP}, names)

	names, err = ParseSinkNames("log,kafka")
	assert.ErrorIs(t, err, ErrUnknownSink)
	assert.ErrorContains(t, err, `"kafka"`)
	assert.Equal(t, []string{SinkLog}, names)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	require.NoError(t, sink.Publish(context.Background(), sampleEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "domain event", line["message"])
	assert.Equal(t, "appointment.created", line["event_type"])
	assert.Equal(t, "patient-001", line["patient_id"])
	assert.Equal(t, map[string]any{"status": "scheduled"}, line["data"])
}

type fakeRedis struct {
	failOn    string
	published map[string][]byte
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if channel == f.failOn {
		cmd.SetErr(errors.New("connection refused"))
		return cmd
	}
	f.published[channel] = message.([]byte)
	cmd.SetVal(1)
	return cmd
}

func TestRedisSinkPublishesToBothChannels(t *testing.T) {
	client := &fakeRedis{published: map[string][]byte{}}
	sink := NewRedisSink(client)

	require.NoError(t, sink.Publish(context.Background(), sampleEvent()))
	require.Contains(t, client.published, RedisChannel)
	require.Contains(t, client.published, "voxmed:doctor:doctor-001")

	var decoded scheduler.Event
	require.NoError(t, json.Unmarshal(client.published[RedisChannel], &decoded))
	assert.Equal(t, sampleEvent(), decoded)
}

func TestRedisSinkReportsFailedChannel(t *testing.T) {
	client := &fakeRedis{published: map[string][]byte{}, failOn: RedisChannel}
	err := NewRedisSink(client).Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "publish to voxmed:events")
	assert.Contains(t, client.published, DoctorChannel("doctor-001"))
}

type fakeChannel struct {
	declared   []string
	declareErr error
	exchange   string
	key        string
	msg        amqp.Publishing
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+":"+kind)
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink(t *testing.T) {
	channel := &fakeChannel{}
	sink, err := NewAMQPSink(channel, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"voxmed.events:topic"}, channel.declared)

	require.NoError(t, sink.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, AMQPExchange, channel.exchange)
	assert.Equal(t, "appointment.created", channel.key)
	assert.Equal(t, "application/json", channel.msg.ContentType)
	assert.Equal(t, "evt-1", channel.msg.MessageId)
	assert.Equal(t, amqp.Persistent, channel.msg.DeliveryMode)

	require.NoError(t, sink.Close())
	assert.True(t, channel.closed)
}

func TestAMQPSinkDeclareFailure(t *testing.T) {
	_, err := NewAMQPSink(&fakeChannel{declareErr: errors.New("access refused")}, "custom")
	assert.ErrorContains(t, err, "declare exchange custom")
}
