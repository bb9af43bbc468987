package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/crawlpool/internal/application"
	"github.com/bnema/crawlpool/internal/domain"
)

type crawlFlags struct {
	platform  string
	inputFile string
	noSpinner bool
}

func (f *crawlFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.platform, "platform", "", "Platform (weibo, xiaohongshu, tieba, zhihu, bilibili)")
	cmd.Flags().StringVar(&f.inputFile, "input", "", "Read additional items from a file, one per line")
	cmd.Flags().BoolVar(&f.noSpinner, "no-spinner", false, "Do not show progress on stderr")
	_ = cmd.MarkFlagRequired("platform")
}

// items merges positional arguments with the input file, dropping blanks.
func (f *crawlFlags) items(args []string) ([]string, error) {
	items := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			items = append(items, trimmed)
		}
	}

	if f.inputFile != "" {
		file, err := os.Open(f.inputFile)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if trimmed := strings.TrimSpace(scanner.Text()); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
	}

	if len(items) == 0 {
		return nil, errors.New("no items given: pass them as arguments or with --input")
	}

	return items, nil
}

func newSearchCmd(app *app) *cobra.Command {
	var flags crawlFlags
	var maxResults int
	var concurrency int

	cmd := &cobra.Command{
		Use:   "search [keyword...]",
		Short: "Run a keyword search across the account pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := domain.ParsePlatform(flags.platform)
			if err != nil {
				return err
			}
			keywords, err := flags.items(args)
			if err != nil {
				return err
			}

			return runCrawl(cmd, flags, domain.JobKeywordSearch, platform, func(ctx context.Context) (domain.RunReport, error) {
				return app.service.RunKeywordSearch(ctx, application.KeywordSearchCommand{
					Platform:    platform,
					Keywords:    keywords,
					MaxResults:  maxResults,
					Concurrency: concurrency,
				})
			})
		},
	}

	flags.bind(cmd)
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Maximum results per keyword (0 lets the worker decide)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of chunks to split the keywords into (0 uses scheduler.default_concurrency)")

	return cmd
}

func newPostsCmd(app *app) *cobra.Command {
	var flags crawlFlags
	var includeComments bool

	cmd := &cobra.Command{
		Use:   "posts [post-id...]",
		Short: "Fetch post details",
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := domain.ParsePlatform(flags.platform)
			if err != nil {
				return err
			}
			postIDs, err := flags.items(args)
			if err != nil {
				return err
			}

			return runCrawl(cmd, flags, domain.JobPostDetails, platform, func(ctx context.Context) (domain.RunReport, error) {
				return app.service.RunPostDetails(ctx, application.PostDetailsCommand{
					Platform:        platform,
					PostIDs:         postIDs,
					IncludeComments: includeComments,
				})
			})
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&includeComments, "include-comments", false, "Also fetch comments")

	return cmd
}

func newUsersCmd(app *app) *cobra.Command {
	var flags crawlFlags
	var maxPosts int

	cmd := &cobra.Command{
		Use:   "users [user-id...]",
		Short: "Fetch posts published by users",
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := domain.ParsePlatform(flags.platform)
			if err != nil {
				return err
			}
			userIDs, err := flags.items(args)
			if err != nil {
				return err
			}

			return runCrawl(cmd, flags, domain.JobUserPosts, platform, func(ctx context.Context) (domain.RunReport, error) {
				return app.service.RunUserPosts(ctx, application.UserPostsCommand{
					Platform: platform,
					UserIDs:  userIDs,
					MaxPosts: maxPosts,
				})
			})
		},
	}

	flags.bind(cmd)
	cmd.Flags().IntVar(&maxPosts, "max-posts", 0, "Maximum posts per user (0 lets the worker decide)")

	return cmd
}

// runCrawl executes run, prints its report as JSON on stdout and a one-line
// summary on stderr. A run in which every chunk failed is an error.
func runCrawl(cmd *cobra.Command, flags crawlFlags, kind domain.JobKind, platform domain.Platform, run func(context.Context) (domain.RunReport, error)) error {
	var (
		report domain.RunReport
		runErr error
	)
	if flags.noSpinner {
		report, runErr = run(cmd.Context())
	} else {
		label := fmt.Sprintf("Running %s on %s...", kind, platform)
		report, runErr = runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), label, run)
	}
	if report.ID == "" {
		return runErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Join(runErr, fmt.Errorf("encode run report: %w", err))
	}

	failed := len(report.Failures())
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "run %s %s: %d/%d chunks succeeded, %d records\n",
		report.ID, report.Status, len(report.Results)-failed, len(report.Results), len(report.Records))

	if runErr != nil {
		return runErr
	}
	if report.Status == domain.RunFailed {
		return fmt.Errorf("run %s failed: all %d chunks failed", report.ID, failed)
	}

	return nil
}
