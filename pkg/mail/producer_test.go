package mail

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type writerStub struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *writerStub) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *writerStub) Close() error {
	w.closed = true
	return nil
}

func TestPublishKeysByRecipient(t *testing.T) {
	writer := &writerStub{}
	producer := &Producer{writer: writer, topic: "mail", logger: zap.NewNop()}

	err := producer.Publish(context.Background(), Message{ID: "m-1", To: "g@x.com", Template: TemplateVerifyEmail, Data: map[string]string{"link": "http://x/verify?code=abc"}})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "g@x.com", string(msg.Key))
	assert.Equal(t, TemplateVerifyEmail, string(msg.Headers[0].Value))

	var decoded Message
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "http://x/verify?code=abc", decoded.Data["link"])
	assert.False(t, decoded.CreatedAt.IsZero())
}

func TestPublishWrapsWriterError(t *testing.T) {
	producer := &Producer{writer: &writerStub{err: errors.New("broker down")}, topic: "mail", logger: zap.NewNop()}

	err := producer.Publish(context.Background(), Message{To: "g@x.com"})
	assert.ErrorContains(t, err, "broker down")
}

func TestNilProducerSkips(t *testing.T) {
	var producer *Producer
	assert.NoError(t, producer.Publish(context.Background(), Message{To: "g@x.com"}))
	assert.NoError(t, producer.Close())
}

func TestNewProducerRequiresTopic(t *testing.T) {
	_, err := NewProducer(Config{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	producer, err := NewProducer(Config{Brokers: []string{"localhost:9092"}, Topic: "mail", Username: "u", Password: "p"}, nil)
	require.NoError(t, err)
	w, ok := producer.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.NotNil(t, w.Transport)
}
