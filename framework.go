// Package orchestratedsaga оркестрируемая сага заказа: проверка товаров,
// оплата и списание остатков с компенсацией в обратном порядке.
//
// Узел собирается пакетом internal/app и запускается командой cmd/saga-node:
//
//	SAGA_ROLE=all TRANSPORT_TYPE=inmemory saga-node
//
// Роли можно разнести по отдельным процессам, общий у них только брокер
// и, для оркестратора и сервиса заказов, журнал событий.
package orchestratedsaga

import "fmt"

// Version представляет версию сборки
const (
	Version = "1.0.0"
	Major   = 1
	Minor   = 0
	Patch   = 0
)

// Metadata содержит метаданные о сборке
type Metadata struct {
	Name        string
	Version     string
	Description string
}

// GetMetadata возвращает метаданные сборки
func GetMetadata() Metadata {
	return Metadata{
		Name:        "orchestrated-saga",
		Version:     Version,
		Description: "Orchestrated saga for order processing",
	}
}

// String возвращает имя и версию для вывода в CLI
func (m Metadata) String() string {
	return fmt.Sprintf("%s %s", m.Name, m.Version)
}
