package toml

import "fmt"

// currentSchemaVersion is bumped whenever accountEntry changes shape.
const currentSchemaVersion = 1

type registryDocument struct {
	Version  int            `toml:"version"`
	Accounts []accountEntry `toml:"accounts"`
}

func (d registryDocument) checkVersion() error {
	if d.Version > currentSchemaVersion {
		return fmt.Errorf("accounts file uses schema version %d, this build reads up to %d", d.Version, currentSchemaVersion)
	}
	return nil
}

func (d registryDocument) indexOf(platform, username string) int {
	for i, entry := range d.Accounts {
		if entry.Platform == platform && entry.Username == username {
			return i
		}
	}
	return -1
}

type accountEntry struct {
	Platform      string `toml:"platform"`
	Username      string `toml:"username"`
	CredentialRef string `toml:"credential_ref"`
	State         string `toml:"state"`
	LastUsedAt    string `toml:"last_used_at,omitempty"`
	CooldownUntil string `toml:"cooldown_until,omitempty"`
	RegisteredAt  string `toml:"registered_at,omitempty"`
	TaskCount     int    `toml:"task_count,omitempty"`
}
