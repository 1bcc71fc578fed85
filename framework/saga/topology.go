package saga

import (
	"fmt"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// Step шаг саги и его каналы
type Step struct {
	Ordinal         int
	Source          Source
	Label           string
	ForwardChannel  string
	RollbackChannel string
	ResponseChannel string
}

// Channels имена каналов саги
type Channels struct {
	StartSaga                string `env:"START_SAGA" envDefault:"start-saga"`
	Orchestrator             string `env:"ORCHESTRATOR" envDefault:"orchestrator"`
	FinishSuccess            string `env:"FINISH_SUCCESS" envDefault:"finish-success"`
	FinishFail               string `env:"FINISH_FAIL" envDefault:"finish-fail"`
	NotifyEnding             string `env:"NOTIFY_ENDING" envDefault:"notify-ending"`
	ProductValidationSuccess string `env:"PRODUCT_VALIDATION_SUCCESS" envDefault:"product-validation-success"`
	ProductValidationFail    string `env:"PRODUCT_VALIDATION_FAIL" envDefault:"product-validation-fail"`
	PaymentSuccess           string `env:"PAYMENT_SUCCESS" envDefault:"payment-success"`
	PaymentFail              string `env:"PAYMENT_FAIL" envDefault:"payment-fail"`
	InventorySuccess         string `env:"INVENTORY_SUCCESS" envDefault:"inventory-success"`
	InventoryFail            string `env:"INVENTORY_FAIL" envDefault:"inventory-fail"`
}

// All возвращает все каналы саги
func (c Channels) All() []string {
	return []string{
		c.StartSaga, c.Orchestrator, c.FinishSuccess, c.FinishFail, c.NotifyEnding,
		c.ProductValidationSuccess, c.ProductValidationFail,
		c.PaymentSuccess, c.PaymentFail,
		c.InventorySuccess, c.InventoryFail,
	}
}

// DefaultChannels возвращает имена каналов по умолчанию
func DefaultChannels() Channels {
	return Channels{
		StartSaga:                "start-saga",
		Orchestrator:             "orchestrator",
		FinishSuccess:            "finish-success",
		FinishFail:               "finish-fail",
		NotifyEnding:             "notify-ending",
		ProductValidationSuccess: "product-validation-success",
		ProductValidationFail:    "product-validation-fail",
		PaymentSuccess:           "payment-success",
		PaymentFail:              "payment-fail",
		InventorySuccess:         "inventory-success",
		InventoryFail:            "inventory-fail",
	}
}

// Topology упорядоченный список шагов саги. После создания только читается.
type Topology struct {
	steps         []Step
	index         map[Source]int
	finishSuccess string
	finishFail    string
}

// NewTopology создает топологию из шагов в порядке выполнения.
// Ordinal каждого шага выставляется по позиции, начиная с 1.
func NewTopology(finishSuccess, finishFail string, steps ...Step) (*Topology, error) {
	if len(steps) == 0 {
		return nil, core.NewError(core.ErrConfiguration, "topology must contain at least one step")
	}
	if finishSuccess == "" || finishFail == "" {
		return nil, core.NewError(core.ErrConfiguration, "finish channels must be set")
	}

	t := &Topology{
		steps:         make([]Step, len(steps)),
		index:         make(map[Source]int, len(steps)),
		finishSuccess: finishSuccess,
		finishFail:    finishFail,
	}

	for i, step := range steps {
		if step.Source == "" || step.Source == SourceOrchestrator {
			return nil, core.NewError(core.ErrConfiguration, fmt.Sprintf("step %d has invalid source %q", i+1, step.Source))
		}
		if step.ForwardChannel == "" || step.RollbackChannel == "" || step.ResponseChannel == "" {
			return nil, core.NewError(core.ErrConfiguration, fmt.Sprintf("step %s must define forward, rollback and response channels", step.Source))
		}
		if _, exists := t.index[step.Source]; exists {
			return nil, core.NewError(core.ErrConfiguration, fmt.Sprintf("duplicate step source %s", step.Source))
		}
		step.Ordinal = i + 1
		t.steps[i] = step
		t.index[step.Source] = i
	}

	return t, nil
}

// DefaultTopology собирает трехшаговую сагу заказа:
// валидация товаров, оплата, резервирование остатков
func DefaultTopology(ch Channels) (*Topology, error) {
	return NewTopology(ch.FinishSuccess, ch.FinishFail,
		Step{
			Source:          SourceProductValidation,
			Label:           "product validation",
			ForwardChannel:  ch.ProductValidationSuccess,
			RollbackChannel: ch.ProductValidationFail,
			ResponseChannel: ch.Orchestrator,
		},
		Step{
			Source:          SourcePayment,
			Label:           "payment",
			ForwardChannel:  ch.PaymentSuccess,
			RollbackChannel: ch.PaymentFail,
			ResponseChannel: ch.Orchestrator,
		},
		Step{
			Source:          SourceInventory,
			Label:           "inventory",
			ForwardChannel:  ch.InventorySuccess,
			RollbackChannel: ch.InventoryFail,
			ResponseChannel: ch.Orchestrator,
		},
	)
}

// StepOf возвращает шаг по источнику события
func (t *Topology) StepOf(source Source) (Step, error) {
	i, ok := t.index[source]
	if !ok {
		return Step{}, core.NewError(core.ErrConfiguration, fmt.Sprintf("source %q is not part of the saga topology", source))
	}
	return t.steps[i], nil
}

// NextOf возвращает следующий шаг, если он есть
func (t *Topology) NextOf(step Step) core.Option[Step] {
	if step.Ordinal < 1 || step.Ordinal >= len(t.steps) {
		return core.None[Step]()
	}
	return core.Some(t.steps[step.Ordinal])
}

// PreviousOf возвращает предыдущий шаг, если он есть
func (t *Topology) PreviousOf(step Step) core.Option[Step] {
	if step.Ordinal <= 1 || step.Ordinal > len(t.steps) {
		return core.None[Step]()
	}
	return core.Some(t.steps[step.Ordinal-2])
}

// First возвращает первый шаг саги
func (t *Topology) First() Step {
	return t.steps[0]
}

// IsLast проверяет, является ли шаг последним
func (t *Topology) IsLast(step Step) bool {
	return step.Ordinal == len(t.steps)
}

// Steps возвращает копию списка шагов
func (t *Topology) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

// FinishSuccessChannel канал успешного завершения саги
func (t *Topology) FinishSuccessChannel() string {
	return t.finishSuccess
}

// FinishFailChannel канал завершения саги после отката
func (t *Topology) FinishFailChannel() string {
	return t.finishFail
}
