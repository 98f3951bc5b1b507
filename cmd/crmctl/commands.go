// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adiadia/crm-automation/internal/bootstrap"
	"github.com/adiadia/crm-automation/internal/config"
	"github.com/adiadia/crm-automation/internal/domain"
	"github.com/adiadia/crm-automation/internal/logging"
	"github.com/adiadia/crm-automation/internal/workflowdef"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var timeNow = time.Now

type cli struct {
	loadConfig func() (config.Config, error)
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	return (&cli{loadConfig: config.Load}).command()
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "crmctl",
		Short:         "Operate the CRM automation core",
		SilenceUsage: true,
	}

	workflow := &cobra.Command{
		Use:   "workflow",
		Short: "Validate and import workflow definitions",
	}
	workflow.AddCommand(
		&cobra.Command{
			Use:   "validate <file>",
			Short: "Check a JSON or YAML workflow definition",
			Args:  cobra.ExactArgs(1),
			RunE:  c.validateWorkflow,
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Validate a workflow definition and store it",
			Args:  cobra.ExactArgs(1),
			RunE:  c.importWorkflow,
		},
	)

	root.AddCommand(
		workflow,
		&cobra.Command{
			Use:   "sweep",
			Short: "Run one automation sweep: date triggers and due runs",
			Args:  cobra.NoArgs,
			RunE:  c.sweep,
		},
		&cobra.Command{
			Use:   "notify",
			Short: "Send every due scheduled notification",
			Args:  cobra.NoArgs,
			RunE:  c.notify,
		},
		&cobra.Command{
			Use:   "score <prospect-id>",
			Short: "Recompute a prospect's scores and evaluate score triggers",
			Args:  cobra.ExactArgs(1),
			RunE:  c.score,
		},
		&cobra.Command{
			Use:   "event <file>",
			Short: "Offer a JSON domain event to the trigger evaluator",
			Args:  cobra.ExactArgs(1),
			RunE:  c.event,
		},
	)
	return root
}

func (c *cli) open(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if c.logger == nil {
		// stdout carries command output.
		c.logger = logging.New(os.Stderr, cfg.Env, os.Getenv("LOG_LEVEL"))
	}
	return bootstrap.Build(ctx, cfg, c.logger)
}

func (c *cli) validateWorkflow(cmd *cobra.Command, args []string) error {
	wf, err := readWorkflow(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%s trigger, %d steps)\n", wf.Name, wf.TriggerType, len(wf.Steps))
	return nil
}

func (c *cli) importWorkflow(cmd *cobra.Command, args []string) error {
	wf, err := readWorkflow(args[0])
	if err != nil {
		return err
	}

	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	created, err := app.Store.Workflows.Create(cmd.Context(), wf)
	if err != nil {
		return domain.External("entity_store", "create workflow", err)
	}
	return printJSON(cmd.OutOrStdout(), created)
}

func (c *cli) sweep(cmd *cobra.Command, _ []string) error {
	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Engine.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func (c *cli) notify(cmd *cobra.Command, _ []string) error {
	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Notifier.Sweep(cmd.Context(), timeNow().UTC())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func (c *cli) score(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid prospect id %q: %w", args[0], err)
	}

	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	result, report, err := app.Engine.Rescore(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"score": result, "report": report})
}

func (c *cli) event(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode event %s: %w", args[0], err)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = timeNow().UTC()
	}

	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Engine.HandleEvent(cmd.Context(), ev)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func readWorkflow(path string) (domain.Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Workflow{}, err
	}
	wf, err := workflowdef.DecodeFile(filepath.Base(path), raw)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
