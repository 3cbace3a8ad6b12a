package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/audit"
	"ideaflow/pkg/errors"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) PublishBatch(ctx context.Context, topic string, messages []kafka.Message) error {
	args := m.Called(ctx, topic, messages)
	return args.Error(0)
}

type recordingSink struct {
	records []audit.Record
	err     error
}

func (s *recordingSink) Emit(ctx context.Context, records ...audit.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func sampleRecord(reason string) audit.Record {
	actx := audit.ActionContext{ActorID: uuid.New(), ActorName: "Ana\xffLee", UISource: "board"}
	return audit.NewRecord(actx, audit.EntityTradeIdea, uuid.New(), audit.ActionStageChanged, audit.CategoryStage, time.Now()).
		Transition("idea", "working_on").
		WithReason(&reason)
}

func TestAuditPublisher_Emit(t *testing.T) {
	rec := sampleRecord("moving\xfe on")
	producer := new(mockProducer)

	var sent []kafka.Message
	producer.On("PublishBatch", mock.Anything, "workflow.audit", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).([]kafka.Message) }).
		Return(nil).Once()

	pub := NewAuditPublisher(producer, "workflow.audit")
	require.NoError(t, pub.Emit(context.Background(), rec))
	producer.AssertExpectations(t)

	require.Len(t, sent, 1)
	assert.Equal(t, rec.EntityID.String(), string(sent[0].Key))
	assert.Equal(t, audit.ActionStageChanged, ActionType(sent[0]))

	decoded, err := DecodeAuditRecord(sent[0].Value)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, decoded.ID)
	assert.Equal(t, "AnaLee", decoded.ActorName)
	require.NotNil(t, decoded.Metadata.Reason)
	assert.Equal(t, "moving on", *decoded.Metadata.Reason)
	assert.Equal(t, "working_on", decoded.ToState)
}

func TestAuditPublisher_EmptyIsNoop(t *testing.T) {
	producer := new(mockProducer)
	pub := NewAuditPublisher(producer, "workflow.audit")

	require.NoError(t, pub.Emit(context.Background()))
	producer.AssertNotCalled(t, "PublishBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuditPublisher_PropagatesFailure(t *testing.T) {
	producer := new(mockProducer)
	producer.On("PublishBatch", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := NewAuditPublisher(producer, "workflow.audit").Emit(context.Background(), sampleRecord("x"))
	assert.Error(t, err)
}

func TestFanOut_AttemptsEverySink(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	healthy := &recordingSink{}

	err := FanOut{failing, healthy}.Emit(context.Background(), sampleRecord("a"), sampleRecord("b"))
	assert.Error(t, err)
	assert.Len(t, healthy.records, 2)

	assert.NoError(t, FanOut{healthy}.Emit(context.Background(), sampleRecord("c")))
	assert.Len(t, healthy.records, 3)
}
