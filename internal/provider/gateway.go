package provider

import (
	"context"
	"net/http"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

// SplitSpec asks the provider to divide the charge between the platform and a
// marketplace payee at capture time.
type SplitSpec struct {
	PayeeRef         string
	PlatformFeeMinor int64
}

// ChargeSpec is everything a gateway needs to create a charge. IdempotencyKey is
// passed through to the provider's own idempotency header where supported, so a
// client-side retry of a failed call cannot create two provider-side charges.
type ChargeSpec struct {
	IdempotencyKey string
	ExternalRef    string
	AmountMinor    int64
	Currency       string
	Description    string
	Preauthorize   bool
	Split          *SplitSpec
}

// WebhookEvent is a provider callback normalized at the adapter boundary.
// Result.Status may be StatusUnknown when the vendor's webhook only announces
// that something changed; callers then fetch ground truth via GetStatus.
type WebhookEvent struct {
	EventID     string
	ProviderRef string
	Result      domain.ProviderResult
}

// Gateway is the uniform surface over one concrete payment provider. Adapters
// map every vendor status string into the internal enum; anything unrecognized
// becomes StatusUnknown and must never advance an intent to a terminal state.
type Gateway interface {
	Name() string
	CreateCharge(ctx context.Context, spec ChargeSpec) (*domain.ProviderResult, error)
	GetStatus(ctx context.Context, providerRef string) (*domain.ProviderResult, error)
	// FindByExternalRef looks up a charge by the reference we sent at creation.
	// Used to recover intents whose create call timed out before the provider
	// reference was recorded. Returns domain.ErrNotFound when no charge exists.
	FindByExternalRef(ctx context.Context, externalRef string) (*domain.ProviderResult, error)
	// Capture settles a previously authorized charge. Gateways without
	// two-phase capture return domain.ErrCaptureNotSupported.
	Capture(ctx context.Context, providerRef string) (*domain.ProviderResult, error)
	VerifyWebhookSignature(headers http.Header, body []byte) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// Registry resolves webhook paths and intent rows to a concrete gateway.
type Registry map[string]Gateway

func NewRegistry(gws ...Gateway) Registry {
	r := make(Registry, len(gws))
	for _, gw := range gws {
		r[gw.Name()] = gw
	}
	return r
}

func (r Registry) Get(name string) (Gateway, error) {
	gw, ok := r[name]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return gw, nil
}
