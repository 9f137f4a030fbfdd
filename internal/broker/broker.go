// Package broker provides the brokerage client used for market data,
// order placement and position management. It includes the Alpaca REST
// implementation and a circuit-breaker decorator.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// OrderSide is the direction of an order.
type OrderSide string

// Order sides accepted by the brokerage.
const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

// Supported time-in-force values.
const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// Quote is a point-in-time bid/ask for one symbol. A zero side means the
// brokerage had no quote on that side.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
}

// Position is an open position as reported by the brokerage. Qty is
// signed: positive is long, negative is short.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
}

// OrderRequest describes a market order to submit.
type OrderRequest struct {
	Symbol        string
	Qty           int
	Side          OrderSide
	TimeInForce   TimeInForce
	ClientOrderID string
}

// Order is the brokerage's confirmation of a submitted or closing order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Qty            float64
	Status         string
	FilledAvgPrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Broker defines the interface for interacting with a brokerage.
type Broker interface {
	// Market data
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)

	// Account state
	GetPositions(ctx context.Context) ([]Position, error)

	// Order placement
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// ClosePosition liquidates the full position in symbol with a market
	// order on the opposite side.
	ClosePosition(ctx context.Context, symbol string) (*Order, error)
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
// so a flapping brokerage API fails fast instead of stalling the
// scheduler tick.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetLatestPrice wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetLatestPrice(ctx, symbol)
	})
}

// GetQuotes wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]Quote, error) {
		return b.GetQuotes(ctx, symbols)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) {
		return b.GetPositions(ctx)
	})
}

// SubmitMarketOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitMarketOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Order, error) {
		return b.SubmitMarketOrder(ctx, req)
	})
}

// ClosePosition wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Order, error) {
		return b.ClosePosition(ctx, symbol)
	})
}
