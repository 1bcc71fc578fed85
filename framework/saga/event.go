// Package saga предоставляет оркестрацию распределенной транзакции заказа:
// модель события, топологию шагов, оркестратор и контракт участника.
package saga

import (
	"time"
)

// Status статус саги, переносимый в каждом событии
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSuccess         Status = "SUCCESS"
	StatusFail            Status = "FAIL"
	StatusRollbackPending Status = "ROLLBACK_PENDING"
)

// Source шаг, который последним произвел событие
type Source string

const (
	SourceOrchestrator      Source = "ORCHESTRATOR"
	SourceProductValidation Source = "PRODUCT_VALIDATION_SERVICE"
	SourcePayment           Source = "PAYMENT_SERVICE"
	SourceInventory         Source = "INVENTORY_SERVICE"
)

// Product позиция каталога
type Product struct {
	Code      string  `json:"code"`
	UnitValue float64 `json:"unitValue"`
}

// OrderProduct строка заказа
type OrderProduct struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Order снимок заказа. TotalAmount и TotalItems принадлежат шагу оплаты.
type Order struct {
	ID            string         `json:"id"`
	Products      []OrderProduct `json:"products"`
	CreatedAt     time.Time      `json:"createdAt"`
	TransactionID string         `json:"transactionId"`
	TotalAmount   float64        `json:"totalAmount"`
	TotalItems    int            `json:"totalItems"`
}

// History запись журнала саги
type History struct {
	Source    Source    `json:"source"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event конверт, который проходит через все каналы саги
type Event struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	OrderID       string    `json:"orderId"`
	Payload       Order     `json:"payload"`
	Source        Source    `json:"source"`
	Status        Status    `json:"status"`
	History       []History `json:"eventHistory"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Clone возвращает глубокую копию события
func (e Event) Clone() Event {
	out := e
	if e.Payload.Products != nil {
		out.Payload.Products = append([]OrderProduct(nil), e.Payload.Products...)
	}
	if e.History != nil {
		out.History = append([]History(nil), e.History...)
	}
	return out
}

// AddHistory возвращает копию события с новой записью журнала
// от имени текущих source и status
func (e Event) AddHistory(message string, at time.Time) Event {
	out := e.Clone()
	out.History = append(out.History, History{
		Source:    e.Source,
		Status:    e.Status,
		Message:   message,
		CreatedAt: at,
	})
	return out
}

// LastHistory возвращает последнюю запись журнала
func (e Event) LastHistory() (History, bool) {
	if len(e.History) == 0 {
		return History{}, false
	}
	return e.History[len(e.History)-1], true
}
