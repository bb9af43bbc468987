package application

import "github.com/bnema/crawlpool/internal/domain"

// Status is a point-in-time view of every pool. Proxy is nil when proxying is
// disabled.
type Status struct {
	Proxy    *domain.PoolSnapshot         `json:"proxy,omitempty"`
	Accounts []domain.AccountPoolSnapshot `json:"accounts"`
}

type ListAccountsQuery struct {
	Platform domain.Platform
}
