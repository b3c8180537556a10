package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconcile"
	"github.com/Ramsey-B/fern/pkg/runlock"
	"github.com/Ramsey-B/fern/pkg/settings"
	"github.com/Ramsey-B/fern/pkg/store"
)

type reconcileOptions struct {
	itemsPath  string
	rulesPath  string
	tenant     string
	dataset    string
	workers    int
	reportType string
}

func reconcileCmd() *cobra.Command {
	opts := reconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation over an items file without a database",
		Long: `Reconcile loads items from a JSON file, either {"items": [...]} or a bare
array, runs matching in memory, and prints the run result. With --report
it prints the exported report instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.itemsPath, "items", "i", "", "Items file (JSON)")
	cmd.Flags().StringVarP(&opts.rulesPath, "rules", "r", "", "Reconciliation config file (yaml or json); defaults apply when empty")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "local", "Tenant id")
	cmd.Flags().StringVar(&opts.dataset, "dataset", "default", "Dataset id")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "Concurrent scoring workers")
	cmd.Flags().StringVar(&opts.reportType, "report", "", "Print the exported report in this format instead of the run result")
	_ = cmd.MarkFlagRequired("items")

	return cmd
}

func readItems(path string) ([]models.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read items %s", path)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []models.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, errors.Wrap(err, "failed to decode items")
		}
		return items, nil
	}

	var req models.IngestItemsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(err, "failed to decode items")
	}
	return req.Items, nil
}

func runReconcile(cmd *cobra.Command, opts reconcileOptions) error {
	ctx := cmd.Context()
	logger := logging.Nop()
	scope := models.Scope{TenantID: opts.tenant, DatasetID: opts.dataset}

	items, err := readItems(opts.itemsPath)
	if err != nil {
		return err
	}

	st := store.NewMemoryStore()
	orchestrator := reconcile.NewOrchestrator(st, runlock.NewMemoryLocker(), logger, reconcile.Options{Workers: opts.workers})
	service := reconcile.NewService(st, orchestrator, logger)

	if opts.rulesPath != "" {
		rules, err := settings.Load(opts.rulesPath)
		if err != nil {
			return err
		}
		if err := service.UpdateConfig(ctx, scope, rules); err != nil {
			return err
		}
	}

	if err := service.IngestItems(ctx, scope, items); err != nil {
		return err
	}

	result, err := service.RerunReconciliation(ctx, scope)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.reportType != "" {
		doc, _, err := service.ExportReport(ctx, scope, opts.reportType)
		if err != nil {
			return err
		}
		_, err = out.Write(doc)
		return err
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}
