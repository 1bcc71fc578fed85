package saga

import (
	"encoding/json"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// Encode сериализует событие в JSON для публикации
func Encode(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, core.Wrap(err, core.ErrValidation, "failed to encode event")
	}
	return data, nil
}

// Decode десериализует событие и проверяет ключ идемпотентности
func Decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, core.Wrap(err, core.ErrValidation, "failed to decode event")
	}
	if event.OrderID == "" || event.TransactionID == "" {
		return Event{}, core.NewError(core.ErrValidation, "event must carry orderId and transactionId")
	}
	return event, nil
}
