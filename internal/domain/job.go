package domain

type JobKind string

const (
	JobKeywordSearch JobKind = "keyword_search"
	JobPostDetails   JobKind = "post_details"
	JobUserPosts     JobKind = "user_posts"
)

type JobParams struct {
	MaxResults      int  `json:"max_results,omitempty"`
	IncludeComments bool `json:"include_comments,omitempty"`
	MaxPosts        int  `json:"max_posts,omitempty"`
}

type Job struct {
	Kind     JobKind
	Platform Platform
	Params   JobParams
}

// Record is one scraped item. Its shape belongs to the worker.
type Record map[string]any

// Task is everything a worker needs for one attempt at one chunk.
type Task struct {
	Job          Job
	Chunk        TaskChunk[string]
	Attempt      int
	Account      Account
	Credential   Credential
	ProxyAddress string
	ProxyURL     string
}
