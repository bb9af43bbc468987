package ports

import (
	"context"

	"github.com/bnema/crawlpool/internal/domain"
)

// AccountRepository persists the account registry between runs.
type AccountRepository interface {
	List(ctx context.Context) ([]domain.Account, error)
	Save(ctx context.Context, account domain.Account) error
	Delete(ctx context.Context, platform domain.Platform, username string) error
}
