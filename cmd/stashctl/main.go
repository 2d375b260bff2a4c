package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cl "stash/internal/cli"
)

var (
	apiBase     string
	adminToken  string
	promptToken bool
	guildID     string
)

func main() {
	root := &cobra.Command{
		Use:          "stashctl",
		Short:        "Admin CLI for the stash ledger service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", envDefault("STASH_API_URL", "http://localhost:8080"), "stashd base URL")
	root.PersistentFlags().StringVar(&adminToken, "token", os.Getenv("STASH_ADMIN_TOKEN"), "admin bearer token")
	root.PersistentFlags().BoolVar(&promptToken, "prompt-token", false, "prompt for the admin token instead of reading flags/env")
	root.PersistentFlags().StringVarP(&guildID, "guild", "g", "", "guild (community) id")

	root.AddCommand(
		newBalanceCmd(),
		newGrantCmd(),
		newSetCmd(),
		newHistoryCmd(),
		newBankCmd(),
		newLoanCmd(),
		newTransferCmd(),
	)

	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() (*cl.Client, error) {
	token := adminToken
	if promptToken {
		fmt.Fprint(os.Stderr, "Admin token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, err
		}
		token = strings.TrimSpace(string(raw))
	}
	return cl.NewClient(apiBase, token), nil
}

func requireGuild() error {
	if strings.TrimSpace(guildID) == "" {
		return fmt.Errorf("--guild is required")
	}
	return nil
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's wallet balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireGuild(); err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.GetBalance(cmd.Context(), guildID, args[0])
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newGrantCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "grant <user-id> <delta>",
		Short: "Apply a wallet delta (negative to debit)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireGuild(); err != nil {
				return err
			}
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delta must be an integer: %w", err)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.UpdateBalance(cmd.Context(), guildID, args[0], delta, reason)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "admin_grant", "history reason tag")
	return cmd
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <user-id> <amount>",
		Short: "Overwrite a user's wallet balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireGuild(); err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.SetBalance(cmd.Context(), guildID, args[0], amount)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Show recent ledger history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireGuild(); err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.History(cmd.Context(), guildID, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	return cmd
}

func newBankCmd() *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Bank operations",
	}
	bank.AddCommand(
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Show bank balance and capacity",
			Args:  cobra.ExactArgs(1),
			RunE: runAccountOp(func(ctx context.Context, c *cl.Client, user string, _ int64) (map[string]any, error) {
				return c.GetBank(ctx, guildID, user)
			}, false),
		},
		&cobra.Command{
			Use:   "deposit <user-id> <amount>",
			Short: "Move funds from wallet to bank",
			Args:  cobra.ExactArgs(2),
			RunE: runAccountOp(func(ctx context.Context, c *cl.Client, user string, amount int64) (map[string]any, error) {
				return c.Deposit(ctx, guildID, user, amount)
			}, true),
		},
		&cobra.Command{
			Use:   "withdraw <user-id> <amount>",
			Short: "Move funds from bank to wallet",
			Args:  cobra.ExactArgs(2),
			RunE: runAccountOp(func(ctx context.Context, c *cl.Client, user string, amount int64) (map[string]any, error) {
				return c.Withdraw(ctx, guildID, user, amount)
			}, true),
		},
		newBankExpandCmd(),
	)
	return bank
}

func newBankExpandCmd() *cobra.Command {
	var level int64
	cmd := &cobra.Command{
		Use:   "expand <user-id> <quantity>",
		Short: "Apply bank capacity upgrade units",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireGuild(); err != nil {
				return err
			}
			quantity, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("quantity must be an integer: %w", err)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.ExpandBank(cmd.Context(), guildID, args[0], quantity, level)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().Int64Var(&level, "level", 0, "upgrade level bonus")
	return cmd
}

func newLoanCmd() *cobra.Command {
	loan := &cobra.Command{
		Use:   "loan",
		Short: "Loan operations",
	}
	loan.AddCommand(
		&cobra.Command{
			Use:   "options",
			Short: "List loan products",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := newClient()
				if err != nil {
					return err
				}
				out, err := c.LoanOptions(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		&cobra.Command{
			Use:   "show <user-id>",
			Short: "Show a user's loan state",
			Args:  cobra.ExactArgs(1),
			RunE: runAccountOp(func(ctx context.Context, c *cl.Client, user string, _ int64) (map[string]any, error) {
				return c.GetLoan(ctx, guildID, user)
			}, false),
		},
		&cobra.Command{
			Use:   "take <user-id> <option-id>",
			Short: "Take a loan",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := requireGuild(); err != nil {
					return err
				}
				c, err := newClient()
				if err != nil {
					return err
				}
				out, err := c.TakeLoan(cmd.Context(), guildID, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(out)
			},
		},
		newLoanPayCmd(),
		&cobra.Command{
			Use:   "reminders <user-id>",
			Short: "Consume pending loan reminders",
			Args:  cobra.ExactArgs(1),
			RunE: runAccountOp(func(ctx context.Context, c *cl.Client, user string, _ int64) (map[string]any, error) {
				return c.ConsumeReminders(ctx, guildID, user)
			}, false),
		},
	)
	return loan
}

func newLoanPayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <user-id> [amount]",
		Short: "Pay a loan down (omit amount to pay everything affordable)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireGuild(); err != nil {
				return err
			}
			var amount *int64
			if len(args) == 2 {
				n, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("amount must be an integer: %w", err)
				}
				amount = &n
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.PayLoan(cmd.Context(), guildID, args[0], amount)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func newTransferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <from-user-id> <to-user-id> <amount>",
		Short: "Transfer between two wallets",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireGuild(); err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out, err := c.Transfer(cmd.Context(), guildID, args[0], args[1], amount)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Printf("transferred %d from %s to %s\n", amount, args[0], args[1])
			return printJSON(out)
		},
	}
}

func runAccountOp(fn func(ctx context.Context, c *cl.Client, user string, amount int64) (map[string]any, error), wantsAmount bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := requireGuild(); err != nil {
			return err
		}
		var amount int64
		if wantsAmount {
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			amount = n
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		out, err := fn(cmd.Context(), c, args[0], amount)
		if err != nil {
			return err
		}
		return printJSON(out)
	}
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
