// ABOUTME: Request context helpers for the authenticated operator
// ABOUTME: Set by the HTTP middleware, read by handlers for logging

package auth

import "context"

type operatorKey struct{}

// WithOperator returns a context carrying the operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext returns the operator name, or "" for unauthenticated
// requests.
func OperatorFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}
