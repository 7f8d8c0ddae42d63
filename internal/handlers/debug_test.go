package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/telemetry"
)

func TestDebugAuditRouteEmitsThroughPublisher(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.messenger", mock.AnythingOfType("telemetry.AuditEnvelope")).Return(nil).Once()
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messenger", "messenger-service", "test")

	r := gin.New()
	RegisterDebugRoutes(r, emitter, true)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
