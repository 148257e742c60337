package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mediaflow/internal/config"
	"mediaflow/internal/daemonrun"
	"mediaflow/internal/gpulock"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
)

var errJobClaimed = errors.New("job is being processed by another executor")

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withRuntime assembles the executor graph for the duration of fn. CLI logs
// go to stderr so command output stays machine readable.
func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(*daemonrun.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: "console",
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	rt, err := daemonrun.Assemble(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// runClaimed executes a job in the foreground while holding its claim.
func runClaimed(ctx context.Context, rt *daemonrun.Runtime, jobID string, fn func(context.Context) error) error {
	if _, err := rt.Store.Get(ctx, jobID); err != nil {
		return err
	}
	owner := jobs.ForegroundClaimPrefix + gpulock.HolderID()
	claimed, err := rt.Store.ClaimJob(ctx, jobID, owner)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("job %s: %w", jobID, errJobClaimed)
	}
	defer func() {
		_ = rt.Store.ReleaseClaim(context.WithoutCancel(ctx), jobID, owner)
	}()
	return fn(ctx)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
