package middleware

import "context"

type deliveryKey struct{}

// WithDelivery returns a context carrying d.
func WithDelivery(ctx context.Context, d *Delivery) context.Context {
	return context.WithValue(ctx, deliveryKey{}, d)
}

// DeliveryFrom returns the delivery attached by [Attach], if any.
func DeliveryFrom(ctx context.Context) (*Delivery, bool) {
	d, ok := ctx.Value(deliveryKey{}).(*Delivery)
	return d, ok
}

// Attach returns middleware that exposes the delivery to the handler
// through the context, so handlers can see the letter ID and attempt.
func Attach() Middleware {
	return func(ctx context.Context, d *Delivery, next Handler) error {
		return next(WithDelivery(ctx, d))
	}
}
