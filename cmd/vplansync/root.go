package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-vplan-cache/config"
	"github.com/goliatone/go-vplan-cache/internal/logging"
	"github.com/goliatone/go-vplan-cache/pkg/di"
)

type cli struct {
	configPath string
	envFile    string
	timeout    time.Duration
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "vplansync",
		Short:        "Sync beste.schule grades into a local cache",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.DurationVar(&c.timeout, "timeout", 30*time.Second, "timeout for a single command")

	root.AddCommand(
		c.linkCommand(),
		c.checkCommand(),
		c.yearsCommand(),
		c.syncCommand(),
		c.gradesCommand(),
		c.intervalsCommand(),
		c.averageCommand(),
	)
	return root
}

func (c *cli) setup() error {
	// a missing dotenv file is fine, a broken one is not
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	c.cfg = cfg
	return nil
}

// run builds the container, executes fn under the command timeout and
// closes the container after.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, container *di.Container) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	container, err := di.NewContainer(ctx, c.cfg, di.WithLogger(logging.Get()))
	if err != nil {
		return err
	}
	defer container.Close()

	return fn(ctx, container)
}

func parseID(name, arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, arg)
	}
	return id, nil
}

func day(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}
