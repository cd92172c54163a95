package capability

import "context"

type roleKey struct{}

// WithRole attaches the requester's role to the invocation context. The
// dispatcher sets it before every Invoke so capabilities that shape output
// per role can read it back.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFrom returns the requester role carried by ctx, empty when absent.
func RoleFrom(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}
