package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-vplan-cache/freshness"
	"github.com/goliatone/go-vplan-cache/gradecalc"
	"github.com/goliatone/go-vplan-cache/pkg/di"
	"github.com/goliatone/go-vplan-cache/store"
)

func (c *cli) linkCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "link <account>",
		Short: "Store the API token of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, container *di.Container) error {
				if err := container.Repositories().Accounts.Link(ctx, accountID, token); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "linked account %d\n", accountID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "beste.schule API token")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (c *cli) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <account>",
		Short: "Check whether the stored token is still accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, container *di.Container) error {
				valid, err := container.Repositories().Accounts.CheckAccess(ctx, accountID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %d: token valid=%s\n", accountID, valid)
				return nil
			})
		},
	}
}

func (c *cli) yearsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "years <account>",
		Short: "Fetch and cache the school years of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, container *di.Container) error {
				years, err := container.Coordinator().SyncYears(ctx, accountID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tFROM\tTO")
				for _, y := range years {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", y.ID, y.Name, day(y.From), day(y.To))
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <account> <year>",
		Short: "Make a year active and cache everything the account can see in it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			yearID, err := parseID("year", args[1])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, container *di.Container) error {
				coord := container.Coordinator()
				// years must be cached before intervals can reference them
				if _, err := coord.SyncYears(ctx, accountID); err != nil {
					return err
				}
				added, err := coord.SyncAll(ctx, accountID, yearID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced account %d, year %d: %d new grades %v\n", accountID, yearID, len(added), added)
				return nil
			})
		},
	}
}

func (c *cli) gradesCommand() *cobra.Command {
	var preference string
	cmd := &cobra.Command{
		Use:   "grades <account>",
		Short: "Print the grades of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			pref, err := freshness.ParsePreference(preference)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, container *di.Container) error {
				cred, err := container.Repositories().Accounts.Credential(ctx, accountID)
				if err != nil {
					return err
				}

				readCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				ch, err := container.Repositories().Grades.ForAccount(readCtx, accountID, pref, cred)
				if err != nil {
					return err
				}
				resp, err := first(ctx, ch)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "# %d grades (%s, from %s)\n", len(resp.Value), pref, resp.Origin)
				fmt.Fprintln(w, "ID\tVALUE\tCOLLECTION\tGIVEN\tOPTIONAL\tSELECTED")
				for _, g := range resp.Value {
					value := "-"
					if g.Value != nil {
						value = *g.Value
					}
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%t\t%s\n", g.ID, value, g.CollectionID, day(g.GivenAt), g.IsOptional, g.SelectedForFinalGrade)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&preference, "preference", "p", "fast", "fast, secure or fresh")
	return cmd
}

func (c *cli) intervalsCommand() *cobra.Command {
	var preference string
	cmd := &cobra.Command{
		Use:   "intervals <account> <year>",
		Short: "Print the grading periods of a school year",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			yearID, err := parseID("year", args[1])
			if err != nil {
				return err
			}
			pref, err := freshness.ParsePreference(preference)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, container *di.Container) error {
				cred, err := container.Repositories().Accounts.Credential(ctx, accountID)
				if err != nil {
					return err
				}

				readCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				ch, err := container.Repositories().Intervals.ForYear(readCtx, yearID, pref, cred)
				if err != nil {
					return err
				}
				resp, err := first(ctx, ch)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "# %d intervals in year %d (%s, from %s)\n", len(resp.Value), yearID, pref, resp.Origin)
				fmt.Fprintln(w, "ID\tNAME\tPARENT\tFROM\tTO")
				for _, i := range resp.Value {
					parent := "-"
					if i.IncludedIntervalID != nil {
						parent = strconv.Itoa(*i.IncludedIntervalID)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i.ID, i.Name, parent, day(i.From), day(i.To))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&preference, "preference", "p", "fast", "fast, secure or fresh")
	return cmd
}

var errNoEmission = errors.New("read ended without a value")

// first waits for the first emission of a read.
func first[T any](ctx context.Context, ch <-chan freshness.Response[T]) (freshness.Response[T], error) {
	select {
	case resp, ok := <-ch:
		if !ok {
			if err := ctx.Err(); err != nil {
				return resp, err
			}
			return resp, errNoEmission
		}
		return resp, resp.Err
	case <-ctx.Done():
		return freshness.Response[T]{}, ctx.Err()
	}
}

func (c *cli) averageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "average <account> <subject>",
		Short: "Compute the cached average and final grade of a subject",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			subjectID, err := parseID("subject", args[1])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, container *di.Container) error {
				return printAverage(ctx, cmd, container, accountID, subjectID)
			})
		},
	}
}

func printAverage(ctx context.Context, cmd *cobra.Command, container *di.Container, accountID, subjectID int) error {
	st := container.Store()
	collections, err := st.Collections.List(ctx, store.BySubject(subjectID))
	if err != nil {
		return err
	}
	ids := make([]int, 0, len(collections))
	for _, col := range collections {
		ids = append(ids, col.ID)
	}

	var grades []store.Grade
	if len(ids) > 0 {
		grades, err = st.Grades.List(ctx, store.ForAccount(accountID), store.InCollections(ids...))
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	avg, ok := gradecalc.Average(grades)
	if !ok {
		fmt.Fprintf(out, "subject %d: no numeric grades cached\n", subjectID)
		return nil
	}
	fmt.Fprintf(out, "subject %d: average %.2f over %d grades\n", subjectID, avg, len(grades))

	rule, err := container.Repositories().FinalGrades.ForSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	if rule == nil || rule.CalculationRule == "" {
		return nil
	}
	final, err := gradecalc.EvaluateRule(rule.CalculationRule, gradecalc.Collect(grades, collections))
	if err != nil {
		return fmt.Errorf("final grade rule %q: %w", rule.CalculationRule, err)
	}
	fmt.Fprintf(out, "subject %d: final grade %.2f (%s)\n", subjectID, final, rule.CalculationRule)
	return nil
}
