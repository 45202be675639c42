// Package presets holds the named endpoint classes and builds one guard per class.
package presets

import (
	"time"

	"github.com/toolink/admit/intercept"
	"github.com/toolink/admit/limiter"
)

// Preset names
const (
	Login         = "login"
	API           = "api"
	Upload        = "upload"
	Search        = "search"
	PasswordReset = "password_reset"
	Registration  = "registration"
)

// Preset is one endpoint class and how it is limited.
type Preset struct {
	Name         string
	Window       time.Duration
	MaxRequests  int64
	Algorithm    limiter.Kind
	PreciseReset bool
	KeyFunc      intercept.KeyFunc

	// OnLimitReached is optional; see intercept.Config.
	OnLimitReached intercept.LimitHandler
}

// Policy returns the limiter policy for p. The preset name is the key scope.
func (p Preset) Policy() limiter.Policy {
	return limiter.Policy{
		Scope:        p.Name,
		Window:       p.Window,
		MaxRequests:  p.MaxRequests,
		Algorithm:    p.Algorithm,
		PreciseReset: p.PreciseReset,
	}
}

// Config returns the interception config for p.
func (p Preset) Config() intercept.Config {
	return intercept.Config{
		Name:           p.Name,
		Policy:         p.Policy(),
		KeyFunc:        p.KeyFunc,
		OnLimitReached: p.OnLimitReached,
	}
}

// Keys are the key functions presets identify callers with.
type Keys struct {
	Address intercept.KeyFunc     // caller address; RemoteIP when nil
	Account intercept.AccountFunc // submitted account; SubmittedAccount when nil
}

func (k Keys) address() intercept.KeyFunc {
	if k.Address == nil {
		return intercept.RemoteIP
	}
	return k.Address
}

func (k Keys) withAccount() intercept.KeyFunc {
	return intercept.WithAccount(k.address(), k.Account)
}

// Defaults returns the built-in presets. Credential endpoints key on address
// plus account and use the atomic algorithm since a single extra attempt
// matters there.
func Defaults(keys Keys) []Preset {
	address, withAccount := keys.address(), keys.withAccount()

	return []Preset{
		{Name: Login, Window: 15 * time.Minute, MaxRequests: 5, Algorithm: limiter.KindAtomicWindow, KeyFunc: withAccount},
		{Name: API, Window: 15 * time.Minute, MaxRequests: 100, Algorithm: limiter.KindFixedWindow, KeyFunc: address},
		{Name: Upload, Window: time.Minute, MaxRequests: 10, Algorithm: limiter.KindSlidingWindow, KeyFunc: address},
		{Name: Search, Window: time.Minute, MaxRequests: 30, Algorithm: limiter.KindFixedWindow, KeyFunc: address},
		{Name: PasswordReset, Window: time.Hour, MaxRequests: 3, Algorithm: limiter.KindAtomicWindow, KeyFunc: withAccount},
		{Name: Registration, Window: time.Hour, MaxRequests: 5, Algorithm: limiter.KindAtomicWindow, KeyFunc: address},
	}
}
