// Package payments adapts payment service providers to the order service's refund gateway.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/customwear/api/internal/services"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// Provider issues refunds against a payment captured by one PSP.
type Provider interface {
	Refund(ctx context.Context, req services.RefundRequest) (services.RefundResult, error)
}

// Manager routes refunds to the provider that captured the payment.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

var _ services.RefundGateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider selects the provider used when an order records none.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Refund implements services.RefundGateway.
func (m *Manager) Refund(ctx context.Context, req services.RefundRequest) (services.RefundResult, error) {
	provider, err := m.resolve(req.Provider)
	if err != nil {
		return services.RefundResult{}, err
	}
	return provider.Refund(ctx, req)
}

func (m *Manager) resolve(name string) (Provider, error) {
	if m == nil {
		return nil, errors.New("payments: manager is nil")
	}
	if key := strings.ToLower(strings.TrimSpace(name)); key != "" {
		if p, ok := m.providers[key]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return p, nil
	}
	if len(m.providers) == 1 {
		for _, p := range m.providers {
			return p, nil
		}
	}
	return nil, ErrUnsupportedProvider
}
