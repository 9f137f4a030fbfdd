package broker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingBroker fails every call unless healthy is set.
type failingBroker struct {
	calls   int
	healthy bool
}

var _ Broker = (*failingBroker)(nil)

var errBrokerDown = errors.New("broker down")

func (f *failingBroker) call() error {
	f.calls++
	if f.healthy {
		return nil
	}
	return errBrokerDown
}

func (f *failingBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	if err := f.call(); err != nil {
		return 0, err
	}
	return 100, nil
}

func (f *failingBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if err := f.call(); err != nil {
		return nil, err
	}
	return map[string]Quote{}, nil
}

func (f *failingBroker) GetPositions(ctx context.Context) ([]Position, error) {
	if err := f.call(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *failingBroker) SubmitMarketOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := f.call(); err != nil {
		return nil, err
	}
	return &Order{ID: "ok"}, nil
}

func (f *failingBroker) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	if err := f.call(); err != nil {
		return nil, err
	}
	return &Order{ID: "ok"}, nil
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingBroker{}
	cb := NewCircuitBreakerBrokerWithSettings(inner, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := cb.GetLatestPrice(ctx, "QQQ"); !errors.Is(err, errBrokerDown) {
			t.Fatalf("call %d: expected broker error, got %v", i, err)
		}
	}

	// Breaker should now be open: the underlying broker is no longer hit.
	before := inner.calls
	if _, err := cb.GetLatestPrice(ctx, "QQQ"); err == nil {
		t.Fatal("expected open-circuit error")
	}
	if inner.calls != before {
		t.Errorf("open breaker still reached the broker (%d -> %d calls)", before, inner.calls)
	}
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	cb := NewCircuitBreakerBroker(&failingBroker{healthy: true})

	order, err := cb.SubmitMarketOrder(context.Background(), OrderRequest{Symbol: "X", Qty: 1, Side: SideBuy})
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if order.ID != "ok" {
		t.Errorf("order = %+v", order)
	}
}
