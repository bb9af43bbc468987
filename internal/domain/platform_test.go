package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		platform Platform
		wantErr  string
	}{
		{name: "weibo", platform: PlatformWeibo},
		{name: "bilibili", platform: PlatformBilibili},
		{name: "missing", platform: "", wantErr: "platform is required"},
		{name: "unsupported", platform: "myspace", wantErr: "unknown platform"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.platform.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestParsePlatformNormalizes(t *testing.T) {
	t.Parallel()

	platform, err := ParsePlatform("  XiaoHongShu ")
	require.NoError(t, err)
	assert.Equal(t, PlatformXiaohongshu, platform)

	_, err = ParsePlatform("twitter")
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}
