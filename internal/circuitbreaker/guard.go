package circuitbreaker

import "context"

// call runs fn through cb and hands back its value. The zero value is
// returned when the breaker rejects the call.
func call[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
