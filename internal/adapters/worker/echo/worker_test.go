package echo

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/crawlpool/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTask(attempt int, items ...string) domain.Task {
	return domain.Task{
		Job:          domain.Job{Kind: domain.JobKeywordSearch, Platform: domain.PlatformWeibo},
		Chunk:        domain.TaskChunk[string]{Index: 2, Items: items},
		Attempt:      attempt,
		Account:      domain.Account{Platform: domain.PlatformWeibo, Username: "alice"},
		ProxyAddress: "10.0.0.1:8000",
	}
}

func TestWorkerEchoesEveryItem(t *testing.T) {
	t.Parallel()

	worker := NewWorker(domain.PlatformWeibo, 0)
	records, err := worker.Execute(context.Background(), echoTask(1, "golang", "rust"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, domain.Record{
		"platform": "weibo",
		"kind":     "keyword_search",
		"item":     "golang",
		"chunk":    2,
		"account":  "alice",
		"proxy":    "10.0.0.1:8000",
		"attempt":  1,
	}, records[0])
	assert.Equal(t, "rust", records[1]["item"])
}

func TestWorkerInjectedFailureOnlyOnFirstAttempt(t *testing.T) {
	t.Parallel()

	worker := NewWorker(domain.PlatformWeibo, 0)

	_, err := worker.Execute(context.Background(), echoTask(1, "ok", "fail:proxy_timeout:golang"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProxyFailure)
	assert.Equal(t, domain.FailureProxyTimeout, domain.ClassifyWorkerError(err))

	records, err := worker.Execute(context.Background(), echoTask(2, "ok", "fail:proxy_timeout:golang"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "golang", records[1]["item"])
}

func TestWorkerIgnoresMalformedFailPrefix(t *testing.T) {
	t.Parallel()

	worker := NewWorker(domain.PlatformZhihu, 0)
	records, err := worker.Execute(context.Background(), echoTask(1, "fail:", "fail:nokind"))
	require.NoError(t, err)
	assert.Equal(t, "fail:", records[0]["item"])
	assert.Equal(t, "fail:nokind", records[1]["item"])
}

func TestWorkerLatencyHonoursCancellation(t *testing.T) {
	t.Parallel()

	worker := NewWorker(domain.PlatformWeibo, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := worker.Execute(ctx, echoTask(1, "golang"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactoryWorkerFor(t *testing.T) {
	t.Parallel()

	factory := NewFactory(0)
	for _, platform := range domain.SupportedPlatforms() {
		worker, err := factory.WorkerFor(platform)
		require.NoError(t, err)
		assert.NotNil(t, worker)
	}

	_, err := factory.WorkerFor("myspace")
	assert.ErrorIs(t, err, domain.ErrUnknownPlatform)
}
