package domain

import (
	"fmt"
	"strings"
)

type Platform string

const (
	PlatformWeibo       Platform = "weibo"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformTieba       Platform = "tieba"
	PlatformZhihu       Platform = "zhihu"
	PlatformBilibili    Platform = "bilibili"
)

func SupportedPlatforms() []Platform {
	return []Platform{PlatformWeibo, PlatformXiaohongshu, PlatformTieba, PlatformZhihu, PlatformBilibili}
}

func ParsePlatform(raw string) (Platform, error) {
	platform := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if err := platform.Validate(); err != nil {
		return "", err
	}

	return platform, nil
}

func (p Platform) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return fmt.Errorf("platform is required")
	}
	for _, supported := range SupportedPlatforms() {
		if p == supported {
			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrUnknownPlatform, string(p))
}
