package application

import "github.com/bnema/crawlpool/internal/domain"

type RegisterAccountCommand struct {
	Platform domain.Platform
	Username string
	Password string
}

type KeywordSearchCommand struct {
	Platform    domain.Platform
	Keywords    []string
	MaxResults  int
	Concurrency int
}

type PostDetailsCommand struct {
	Platform        domain.Platform
	PostIDs         []string
	IncludeComments bool
}

type UserPostsCommand struct {
	Platform domain.Platform
	UserIDs  []string
	MaxPosts int
}
