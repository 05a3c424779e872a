package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/volume"
)

// =============================================================================
// ORDER STORE
// =============================================================================

type Orders struct {
	mu     sync.RWMutex
	orders map[string]volume.Order
}

func NewOrders() *Orders {
	return &Orders{orders: make(map[string]volume.Order)}
}

func (s *Orders) Save(_ context.Context, o volume.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *Orders) InPeriod(_ context.Context, period engine.Period) ([]volume.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []volume.Order
	for _, o := range s.orders {
		if period.Contains(o.CreatedAt) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Orders) ByCustomerBefore(_ context.Context, customerID string, before time.Time) ([]volume.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []volume.Order
	for _, o := range s.orders {
		if o.CustomerID == nil || *o.CustomerID != customerID {
			continue
		}
		if !o.CreatedAt.Before(before) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ volume.OrderStore = (*Orders)(nil)
