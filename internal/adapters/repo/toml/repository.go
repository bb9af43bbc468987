package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/bnema/crawlpool/internal/ports"
)

const (
	accountsPathKey = "accounts.path"
	registryMode    = 0o600
	registryDirMode = 0o700
	registryTemp    = ".accounts-*.toml.tmp"
)

// Repository persists the account registry as a versioned TOML document.
// Every instance pointing at the same file shares one lock, so concurrent
// services in a process never interleave a read-modify-write cycle.
type Repository struct {
	path string
	mu   *sync.RWMutex
}

var _ ports.AccountRepository = (*Repository)(nil)

var fileLocks sync.Map // absolute path -> *sync.RWMutex

func NewRepository(cfg *viper.Viper) (*Repository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(accountsPathKey)
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".crawlpool", "accounts.toml")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve accounts path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	lock, _ := fileLocks.LoadOrStore(absPath, &sync.RWMutex{})
	return &Repository{path: absPath, mu: lock.(*sync.RWMutex)}, nil
}

func (r *Repository) Path() string {
	return r.path
}

// Save inserts the account or replaces the entry with the same platform and
// username, keeping the original position in the file.
func (r *Repository) Save(ctx context.Context, account domain.Account) error {
	entry := encodeAccount(account)
	return r.update(ctx, func(doc *registryDocument) error {
		if i := doc.indexOf(entry.Platform, entry.Username); i >= 0 {
			doc.Accounts[i] = entry
			return nil
		}
		doc.Accounts = append(doc.Accounts, entry)
		return nil
	})
}

func (r *Repository) Delete(ctx context.Context, platform domain.Platform, username string) error {
	return r.update(ctx, func(doc *registryDocument) error {
		i := doc.indexOf(string(platform), username)
		if i < 0 {
			return fmt.Errorf("delete %s/%s: %w", platform, username, domain.ErrAccountNotFound)
		}
		doc.Accounts = append(doc.Accounts[:i], doc.Accounts[i+1:]...)
		return nil
	})
}

func (r *Repository) List(ctx context.Context) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, len(doc.Accounts))
	for i, entry := range doc.Accounts {
		accounts[i] = entry.decode()
	}
	return accounts, nil
}

// update runs mutate against the current document under the write lock and
// stores the result. Nothing is written when mutate fails or ctx ends first.
func (r *Repository) update(ctx context.Context, mutate func(*registryDocument) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}
	if err := mutate(&doc); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.store(doc)
}

func (r *Repository) load() (registryDocument, error) {
	doc := registryDocument{Version: currentSchemaVersion}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read accounts file: %w", err)
	}

	if err := toml.Unmarshal(data, &doc); err != nil {
		return registryDocument{}, fmt.Errorf("decode accounts file: %w", err)
	}
	if err := doc.checkVersion(); err != nil {
		return registryDocument{}, err
	}

	return doc, nil
}

func (r *Repository) store(doc registryDocument) error {
	if doc.Version == 0 {
		doc.Version = currentSchemaVersion
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	return writeFileAtomic(r.path, data)
}

// writeFileAtomic replaces path with data via a sibling temp file so a crash
// leaves either the old or the new registry on disk.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, registryDirMode); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, registryTemp)
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(registryMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp accounts file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp accounts file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp accounts file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}

	return nil
}

func encodeAccount(account domain.Account) accountEntry {
	return accountEntry{
		Platform:      string(account.Platform),
		Username:      account.Username,
		CredentialRef: account.CredentialRef,
		State:         string(account.State),
		LastUsedAt:    encodeTime(account.LastUsedAt),
		CooldownUntil: encodeTime(account.CooldownUntil),
		RegisteredAt:  encodeTime(account.RegisteredAt),
		TaskCount:     account.TaskCount,
	}
}

// decode maps a stored entry back to a domain account. Unknown states load as
// available so a hand-edited file cannot wedge an account.
func (e accountEntry) decode() domain.Account {
	state := domain.AccountState(e.State)
	if !state.Valid() {
		state = domain.AccountAvailable
	}

	return domain.Account{
		Platform:      domain.Platform(e.Platform),
		Username:      e.Username,
		CredentialRef: e.CredentialRef,
		State:         state,
		LastUsedAt:    decodeTime(e.LastUsedAt),
		CooldownUntil: decodeTime(e.CooldownUntil),
		RegisteredAt:  decodeTime(e.RegisteredAt),
		TaskCount:     e.TaskCount,
	}
}

func encodeTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func decodeTime(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
