// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// HealthCheck интерфейс для health checks
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckResult результат health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckResult результат отдельной проверки
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthRegistry набор проверок узла саги
type HealthRegistry struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

// NewHealthRegistry создает пустой реестр проверок
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{}
}

// Register регистрирует health check
func (r *HealthRegistry) Register(check HealthCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, check)
}

// RegisterComponent регистрирует проверку компонента с HealthCheck или Lifecycle
func (r *HealthRegistry) RegisterComponent(name string, component interface{}) {
	switch c := component.(type) {
	case core.HealthCheckable:
		r.Register(NewFuncHealthCheck(name, c.HealthCheck))
	case core.Lifecycle:
		r.Register(NewFuncHealthCheck(name, func(ctx context.Context) error {
			if !c.IsRunning() {
				return core.NewError(core.ErrNotFound, name+" is not running")
			}
			return nil
		}))
	}
}

// Run выполняет все проверки параллельно
func (r *HealthRegistry) Run(ctx context.Context) HealthCheckResult {
	r.mu.RLock()
	checks := append([]HealthCheck(nil), r.checks...)
	r.mu.RUnlock()

	result := HealthCheckResult{
		Status:    "healthy",
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(8)
	for _, check := range checks {
		check := check
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)

			cr := CheckResult{Status: "healthy", Duration: time.Since(start)}
			if err != nil {
				cr.Status = "unhealthy"
				cr.Message = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Status = "unhealthy"
			}
			result.Checks[check.Name()] = cr
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// HealthCheckHandler возвращает Gin handler для health check
func (r *HealthRegistry) HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		result := r.Run(ctx)
		if result.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// FuncHealthCheck проверка на основе функции
type FuncHealthCheck struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// NewFuncHealthCheck создает новый FuncHealthCheck
func NewFuncHealthCheck(name string, checkFunc func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, checkFunc: checkFunc}
}

// Name возвращает имя проверки
func (h *FuncHealthCheck) Name() string {
	return h.name
}

// Check выполняет проверку
func (h *FuncHealthCheck) Check(ctx context.Context) error {
	if h.checkFunc == nil {
		return core.NewError(core.ErrInvalidConfig, "check function is nil")
	}
	return h.checkFunc(ctx)
}
