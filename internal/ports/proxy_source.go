package ports

import (
	"context"

	"github.com/bnema/crawlpool/internal/domain"
)

// ProxySource rents proxy addresses from a vendor. Each call returns one
// fresh offer or an error; errors wrapping domain.ErrConfiguration are never
// retried.
type ProxySource interface {
	LeaseProxy(ctx context.Context, creds domain.VendorCredentials) (domain.LeaseOffer, error)
}
