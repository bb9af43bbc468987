package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/bnema/crawlpool/internal/application"
	"github.com/bnema/crawlpool/internal/domain"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage platform accounts",
	}

	cmd.AddCommand(
		newAccountAddCmd(app),
		newAccountListCmd(app),
		newAccountRemoveCmd(app),
		newAccountUnbanCmd(app),
	)

	return cmd
}

type accountSelector struct {
	platform string
	username string
}

func (s *accountSelector) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.platform, "platform", "", "Platform (weibo, xiaohongshu, tieba, zhihu, bilibili)")
	cmd.Flags().StringVar(&s.username, "username", "", "Account username")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("username")
}

func (s *accountSelector) resolve() (domain.Platform, string, error) {
	platform, err := domain.ParsePlatform(s.platform)
	if err != nil {
		return "", "", err
	}
	return platform, strings.TrimSpace(s.username), nil
}

func newAccountAddCmd(app *app) *cobra.Command {
	var selector accountSelector
	var password string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an account and store its password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			platform, username, err := selector.resolve()
			if err != nil {
				return err
			}

			if passwordStdin {
				if password != "" {
					return errors.New("--password and --password-stdin are mutually exclusive")
				}
				password, err = readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			if password == "" {
				return errors.New("a password is required: use --password or --password-stdin")
			}

			account, err := app.service.RegisterAccount(cmd.Context(), application.RegisterAccountCommand{
				Platform: platform,
				Username: username,
				Password: password,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s/%s\n", account.Platform, sanitizeForTerminal(account.Username))
			return nil
		},
	}

	selector.bind(cmd)
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func newAccountListCmd(app *app) *cobra.Command {
	var platform string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := application.ListAccountsQuery{}
			if platform != "" {
				parsed, err := domain.ParsePlatform(platform)
				if err != nil {
					return err
				}
				query.Platform = parsed
			}

			accounts, err := app.service.ListAccounts(query)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(accounts)
			}

			if len(accounts) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no accounts registered")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PLATFORM\tUSERNAME\tSTATE\tTASKS\tLAST USED")
			for _, account := range accounts {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					account.Platform,
					sanitizeForTerminal(account.Username),
					account.State,
					account.TaskCount,
					formatTimestamp(account.LastUsedAt),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "Only list accounts of this platform")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	return cmd
}

func newAccountRemoveCmd(app *app) *cobra.Command {
	var selector accountSelector

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an account and delete its stored password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			platform, username, err := selector.resolve()
			if err != nil {
				return err
			}

			if err := app.service.RemoveAccount(cmd.Context(), platform, username); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s\n", platform, sanitizeForTerminal(username))
			return nil
		},
	}

	selector.bind(cmd)
	return cmd
}

func newAccountUnbanCmd(app *app) *cobra.Command {
	var selector accountSelector

	cmd := &cobra.Command{
		Use:   "unban",
		Short: "Return a banned or cooling account to the available set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			platform, username, err := selector.resolve()
			if err != nil {
				return err
			}

			account, err := app.service.UnbanAccount(cmd.Context(), platform, username)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is %s\n", account.Platform, sanitizeForTerminal(account.Username), account.State)
			return nil
		},
	}

	selector.bind(cmd)
	return cmd
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeForTerminal(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}
