package application

import "github.com/bnema/crawlpool/internal/domain"

// Split partitions items into min(concurrency, len(items)) contiguous chunks.
// The remainder is spread one item per chunk over the leading chunks, so
// chunk sizes never differ by more than one. Items are copied.
func Split[T any](items []T, concurrency int) []domain.TaskChunk[T] {
	if concurrency <= 0 || len(items) == 0 {
		return []domain.TaskChunk[T]{}
	}

	n := min(concurrency, len(items))
	base, remainder := len(items)/n, len(items)%n

	chunks := make([]domain.TaskChunk[T], 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < remainder {
			size++
		}

		chunkItems := make([]T, size)
		copy(chunkItems, items[start:start+size])
		chunks = append(chunks, domain.TaskChunk[T]{Index: i, Items: chunkItems})
		start += size
	}

	return chunks
}

// chunkCountFor is the concurrency that keeps every chunk at or below size.
func chunkCountFor(total, size int) int {
	if total <= 0 {
		return 0
	}
	if size <= 0 {
		return 1
	}

	return (total + size - 1) / size
}
