package order

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// API HTTP обработчики сервиса заказов
type API struct {
	service *Service
}

// NewAPI создает обработчики
func NewAPI(service *Service) *API {
	return &API{service: service}
}

// RegisterRoutes регистрирует маршруты /api
func (a *API) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/order", a.createOrder)
	api.GET("/event", a.findByFilter)
	api.GET("/event/all", a.findAll)
}

func (a *API) createOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, core.Wrap(err, core.ErrValidation, "invalid request body"))
		return
	}

	order, err := a.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a *API) findByFilter(c *gin.Context) {
	filter := saga.EventFilter{
		OrderID:       c.Query("orderId"),
		TransactionID: c.Query("transactionId"),
	}

	event, err := a.service.FindByFilter(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (a *API) findAll(c *gin.Context) {
	events, err := a.service.FindAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []saga.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.HasCode(err, core.ErrValidation):
		status = http.StatusBadRequest
	case core.HasCode(err, core.ErrNotFound):
		status = http.StatusNotFound
	}

	message := err.Error()
	var fe *core.FrameworkError
	if errors.As(err, &fe) {
		message = fe.Message
	}
	c.JSON(status, ErrorResponse{Status: status, Message: message})
}
