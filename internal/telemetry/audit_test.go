package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/telemetry"
)

func TestAuditEmitterBuildsEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messenger", "messenger-service", "test")

	userID := int64(42)
	publisher.On("Publish", mock.Anything, "audit.messenger", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(telemetry.AuditEnvelope)
		if !ok {
			return false
		}
		return envelope.SchemaVersion == 1 &&
			envelope.EventType == "audit_log" &&
			envelope.Service == "messenger-service" &&
			envelope.Environment == "test" &&
			envelope.RequestID == "req-1" &&
			envelope.UserID != nil && *envelope.UserID == 42 &&
			envelope.Payload.Level == "INFO" &&
			envelope.Payload.Text == "direct conversation created id=5"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "direct conversation created id=5", "req-1", &userID)

	publisher.AssertExpectations(t)
}

func TestAuditEmitterNilReceiverIsSafe(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "noop", "req-1", nil)
	})
}

func TestAuditEmitterSwallowsPublishError(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messenger", "messenger-service", "test")

	publisher.On("Publish", mock.Anything, "audit.messenger", mock.Anything).Return(context.DeadlineExceeded).Once()

	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "ERROR", "boom", "req-2", nil)
	})
	publisher.AssertExpectations(t)
}
