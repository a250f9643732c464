package access

import (
	"context"
	"net/http"

	"github.com/deckvault/deckvault-core/internal/auth"
)

// Error codes carried by rejections.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeMaintenanceMode = "MAINTENANCE_MODE"
	CodeInternal        = "INTERNAL_ERROR"
)

// State is what the stages know about a request so far.
type State struct {
	Identity *auth.Identity

	// Resource is the object loaded by Owns, if any.
	Resource any
}

// Rejection stops a request with an HTTP error.
type Rejection struct {
	Status  int
	Code    string
	Message string
	Headers map[string]string
}

// Stage is one step of a route's access check.
type Stage func(r *http.Request, prior State) (State, *Rejection)

// RejectFunc writes a rejection to the client.
type RejectFunc func(w http.ResponseWriter, r *http.Request, rej *Rejection)

type stateKey struct{}

// Pipeline runs stages in order, starting from any State already on the
// request. The first rejection is written with reject and the handler is
// not called.
func Pipeline(reject RejectFunc, stages ...Stage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := StateFrom(r.Context())
			for _, stage := range stages {
				var rej *Rejection
				state, rej = stage(r, state)
				if rej != nil {
					for k, v := range rej.Headers {
						w.Header().Set(k, v)
					}
					reject(w, r, rej)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithState(r.Context(), state)))
		})
	}
}

// WithState returns a context carrying state.
func WithState(ctx context.Context, state State) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

// StateFrom returns the State stored on ctx, or the zero State.
func StateFrom(ctx context.Context) State {
	state, _ := ctx.Value(stateKey{}).(State) //nolint:errcheck // zero State when absent
	return state
}

// IdentityFrom returns the identity attached to ctx, or nil.
func IdentityFrom(ctx context.Context) *auth.Identity {
	return StateFrom(ctx).Identity
}

// ResourceFrom returns the resource loaded by Owns, or nil.
func ResourceFrom(ctx context.Context) any {
	return StateFrom(ctx).Resource
}

func reject(status int, code, message string) *Rejection {
	return &Rejection{Status: status, Code: code, Message: message}
}
