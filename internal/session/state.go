// Package session keeps a backend client's credentials in step with the
// identity provider's sign-in state on the client side.
package session

import "context"

// Phase is the coarse lifecycle of the Manager.
type Phase int

const (
	// PhaseUninitialized means the provider has not reported sign-in state yet.
	PhaseUninitialized Phase = iota
	// PhaseLoading means a token fetch is in flight.
	PhaseLoading
	// PhaseReady means the client is configured, authenticated or not.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// State is a snapshot of the Manager. Authenticated is only meaningful when
// Phase is PhaseReady.
type State struct {
	Phase         Phase
	Authenticated bool
}

// Ready reports whether the state allows rendering.
func (s State) Ready() bool { return s.Phase == PhaseReady }

func (s State) String() string {
	if s.Phase != PhaseReady {
		return s.Phase.String()
	}
	if s.Authenticated {
		return "ready(authenticated)"
	}
	return "ready(anonymous)"
}

// Transition is a sign-in state change reported by the identity provider.
type Transition struct {
	SignedIn bool
}

// TokenFetcher obtains a scoped token for the signed-in user. Implementations
// may cache, but every call must return a token that is valid now.
type TokenFetcher interface {
	FetchToken(ctx context.Context, audience string) (string, error)
}

// AuthClient is the backend client whose credentials the Manager maintains.
type AuthClient interface {
	SetAuth(provider func(ctx context.Context) (string, error))
	ClearAuth()
}

// SignInSource delivers sign-in transitions. The returned channel is closed
// when the stream ends; Subscribe may be called again to restart it.
type SignInSource interface {
	Subscribe(ctx context.Context) (<-chan Transition, error)
}
