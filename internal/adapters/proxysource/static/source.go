package static

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/logger"
	"github.com/bnema/crawlpool/internal/ports"
)

const DefaultTTL = 5 * time.Minute

// Source hands out a fixed list of proxy addresses in round-robin order,
// each with the same TTL. It stands in for a vendor API when proxies are
// provisioned out of band.
type Source struct {
	addresses []string
	ttl       time.Duration
	next      uint32
}

var _ ports.ProxySource = (*Source)(nil)

func NewSource(addresses []string, ttl time.Duration) (*Source, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("%w: static proxy ttl %s is below one second", domain.ErrConfiguration, ttl)
	}

	cleaned := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(address); err != nil {
			return nil, fmt.Errorf("%w: static proxy address %q: %v", domain.ErrConfiguration, address, err)
		}
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		cleaned = append(cleaned, address)
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: no static proxy addresses configured", domain.ErrConfiguration)
	}

	return &Source{addresses: cleaned, ttl: ttl}, nil
}

func (s *Source) Addresses() []string {
	out := make([]string, len(s.addresses))
	copy(out, s.addresses)
	return out
}

// LeaseProxy ignores the vendor credentials; they are applied to the proxy URL
// by the pool.
func (s *Source) LeaseProxy(ctx context.Context, _ domain.VendorCredentials) (domain.LeaseOffer, error) {
	if err := ctx.Err(); err != nil {
		return domain.LeaseOffer{}, err
	}

	index := atomic.AddUint32(&s.next, 1) - 1
	address := s.addresses[index%uint32(len(s.addresses))]

	log := logger.WithComponent("StaticProxySource")
	log.Debug().Str("address", address).Dur("ttl", s.ttl).Msg("Leasing static proxy.")

	return domain.LeaseOffer{Address: address, TTLSeconds: int(s.ttl / time.Second)}, nil
}
