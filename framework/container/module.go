package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/akriventsev/orchestrated-saga/framework/core"
)

// Module представляет модуль приложения
type Module interface {
	core.Component
	// Initialize регистрирует зависимости и компоненты модуля в контейнере
	Initialize(ctx context.Context, container *Container) error
	// Dependencies возвращает список модулей, которые должны быть инициализированы раньше
	Dependencies() []string
}

// BaseModule базовая реализация модуля
type BaseModule struct {
	name         string
	dependencies []string
}

// NewBaseModule создает новый базовый модуль
func NewBaseModule(name string, dependencies ...string) BaseModule {
	return BaseModule{
		name:         name,
		dependencies: dependencies,
	}
}

func (m BaseModule) Name() string {
	return m.name
}

func (m BaseModule) Type() core.ComponentType {
	return core.ComponentTypeModule
}

func (m BaseModule) Dependencies() []string {
	return m.dependencies
}

// FuncModule модуль, заданный функцией инициализации
type FuncModule struct {
	BaseModule
	init func(ctx context.Context, container *Container) error
}

// NewModule создает модуль из функции
func NewModule(name string, init func(ctx context.Context, container *Container) error, dependencies ...string) *FuncModule {
	return &FuncModule{
		BaseModule: NewBaseModule(name, dependencies...),
		init:       init,
	}
}

// Initialize вызывает функцию инициализации
func (m *FuncModule) Initialize(ctx context.Context, container *Container) error {
	return m.init(ctx, container)
}

// ModuleRegistry реестр модулей с сохранением порядка регистрации
type ModuleRegistry struct {
	modules map[string]Module
	order   []string
	mu      sync.RWMutex
}

// NewModuleRegistry создает новый реестр модулей
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		modules: make(map[string]Module),
	}
}

// RegisterModule регистрирует модуль
func (r *ModuleRegistry) RegisterModule(module Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := module.Name()
	if name == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %s already registered", name)
	}
	r.modules[name] = module
	r.order = append(r.order, name)
	return nil
}

// GetModule возвращает модуль по имени
func (r *ModuleRegistry) GetModule(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, ok := r.modules[name]
	return module, ok
}

// InitOrder возвращает модули в порядке инициализации (алгоритм Кана).
// Среди готовых модулей сохраняется порядок регистрации.
func (r *ModuleRegistry) InitOrder() ([]Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inDegree := make(map[string]int, len(r.order))
	dependents := make(map[string][]string, len(r.order))
	for _, name := range r.order {
		inDegree[name] += 0
		for _, dep := range r.modules[name].Dependencies() {
			if _, exists := r.modules[dep]; !exists {
				return nil, fmt.Errorf("module %s depends on unknown module %s", name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for _, name := range r.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]Module, 0, len(r.order))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, r.modules[current])

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) < len(r.order) {
		for _, name := range r.order {
			if inDegree[name] > 0 {
				return nil, fmt.Errorf("circular dependency detected at module %s", name)
			}
		}
	}
	return result, nil
}
