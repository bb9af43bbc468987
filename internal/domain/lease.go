package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ProxyLease is one rented proxy address. Once handed to a task it is owned
// exclusively by that task until it is released, discarded or expires.
type ProxyLease struct {
	ID         string
	Address    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (l ProxyLease) Remaining(now time.Time) time.Duration {
	return l.ExpiresAt.Sub(now)
}

func (l ProxyLease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Usable reports whether at least margin of TTL is left at now.
func (l ProxyLease) Usable(now time.Time, margin time.Duration) bool {
	return l.Remaining(now) >= margin
}

// LeaseOffer is what a proxy vendor returns for a single lease request.
type LeaseOffer struct {
	Address    string
	TTLSeconds int
}

func (o LeaseOffer) Validate() error {
	if strings.TrimSpace(o.Address) == "" {
		return fmt.Errorf("lease offer address is required")
	}
	if o.TTLSeconds <= 0 {
		return fmt.Errorf("lease offer for %s has non-positive ttl %d", o.Address, o.TTLSeconds)
	}

	return nil
}

// VendorCredentials are opaque proxy-vendor settings passed through to the
// ProxySource unmodified.
type VendorCredentials struct {
	Username  string
	Password  string
	SecretID  string
	Signature string
}

// Validate rejects half-filled credential pairs.
func (c VendorCredentials) Validate() error {
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("%w: username and password must be set together", ErrInvalidVendorCredentials)
	}
	if (c.SecretID == "") != (c.Signature == "") {
		return fmt.Errorf("%w: secret id and signature must be set together", ErrInvalidVendorCredentials)
	}

	return nil
}

// ProxyURL renders the lease address as an http proxy URL carrying the vendor
// username and password when present.
func (c VendorCredentials) ProxyURL(address string) string {
	if address == "" {
		return ""
	}

	u := url.URL{Scheme: "http", Host: address}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}

	return u.String()
}
