package protocol

import (
	"context"
	"fmt"
	"sync"
)

// Memory — детерминированный протокол для тестов и локального стенда.
// Ведет позиции supply/borrow по (market, onBehalf), shares считает 1:1.
type Memory struct {
	mu       sync.Mutex
	supplied map[string]uint64
	borrowed map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{
		supplied: make(map[string]uint64),
		borrowed: make(map[string]uint64),
	}
}

func (m *Memory) Supply(_ context.Context, market string, amount uint64, onBehalf string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supplied[posKey(market, onBehalf)] += amount
	return amount, nil
}

func (m *Memory) Borrow(_ context.Context, market string, amount uint64, onBehalf, _ string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrowed[posKey(market, onBehalf)] += amount
	return amount, nil
}

func (m *Memory) Withdraw(_ context.Context, market string, amount uint64, onBehalf, _ string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := posKey(market, onBehalf)
	if m.supplied[k] < amount {
		return 0, fmt.Errorf("insufficient supplied balance: have %d, want %d", m.supplied[k], amount)
	}
	m.supplied[k] -= amount
	return amount, nil
}

func (m *Memory) Repay(_ context.Context, market string, amount uint64, onBehalf string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := posKey(market, onBehalf)
	if amount > m.borrowed[k] {
		amount = m.borrowed[k] // Переплату протокол обрезает до долга
	}
	m.borrowed[k] -= amount
	return amount, nil
}

// Supplied — инспекция позиции (тесты).
func (m *Memory) Supplied(market, onBehalf string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supplied[posKey(market, onBehalf)]
}

// Borrowed — инспекция позиции (тесты).
func (m *Memory) Borrowed(market, onBehalf string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.borrowed[posKey(market, onBehalf)]
}

func posKey(market, onBehalf string) string {
	return market + ":" + onBehalf
}
