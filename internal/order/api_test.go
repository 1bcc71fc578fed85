package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(&capturePublisher{})
	router := gin.New()
	NewAPI(svc).RegisterRoutes(router)
	return router, svc
}

func serve(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPI_CreateOrder(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodPost, "/api/order",
		`{"products":[{"product":{"code":"COMIC_BOOKS","unitValue":15.5},"quantity":2}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var order saga.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.NotEmpty(t, order.ID)
	assert.NotEmpty(t, order.TransactionID)
}

func TestAPI_CreateOrderRejectsBadBody(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/api/order", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/api/order", `{"products":[]}`).Code)
}

func TestAPI_FindEvent(t *testing.T) {
	router, svc := newTestRouter(t)
	require.NoError(t, svc.NotifyEnding(context.Background(), saga.Event{
		ID: "evt-1", OrderID: "order-1", TransactionID: "tx-1", Status: saga.StatusFail,
	}))

	w := serve(router, http.MethodGet, "/api/event?orderId=order-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var event saga.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &event))
	assert.Equal(t, saga.StatusFail, event.Status)

	w = serve(router, http.MethodGet, "/api/event", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.Equal(t, "OrderId and transactionId must be informed.", errBody.Message)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/event?transactionId=missing", "").Code)
}

func TestAPI_FindAll(t *testing.T) {
	router, svc := newTestRouter(t)

	w := serve(router, http.MethodGet, "/api/event/all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	require.NoError(t, svc.NotifyEnding(context.Background(), saga.Event{ID: "a", OrderID: "o", TransactionID: "t1"}))
	require.NoError(t, svc.NotifyEnding(context.Background(), saga.Event{ID: "b", OrderID: "o", TransactionID: "t2"}))

	w = serve(router, http.MethodGet, "/api/event/all", "")
	var events []saga.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
}
