package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lectern/api/internal/app"
	"lectern/api/internal/config"
	"lectern/api/internal/rank"
	"lectern/api/internal/store"
)

// cliSession is the identity maintenance commands act under.
var cliSession = app.Session{UserID: "cli", UserName: "lectern-cli", Role: "admin"}

func newRankCmd() *cobra.Command {
	var before, after string
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Compute the rank between two neighbours without touching storage",
		Long: `Compute prints the rank a new item would receive.

--after is the rank of the item that will precede the new one and --before
the rank of the item that will follow it. Leave both empty for the first
item of a list.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			engine, err := rank.New(cfg.RankConfig())
			if err != nil {
				return err
			}
			before, after = strings.TrimSpace(before), strings.TrimSpace(after)
			r, err := engine.Compute(before, after)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"rank":      r.String(),
				"mode":      rank.ModeFor(before, after),
				"precision": r.Precision(),
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "rank of the following item")
	cmd.Flags().StringVar(&after, "after", "", "rank of the preceding item")
	return cmd
}

func newRebalanceCmd() *cobra.Command {
	var kind, parent string
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Respread every rank in one scope into the next bucket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scopeKind := store.Kind(kind)
			if !scopeKind.Valid() {
				return fmt.Errorf("--kind must be subject, topic or article")
			}
			if scopeKind != store.KindSubject && strings.TrimSpace(parent) == "" {
				return fmt.Errorf("--parent is required for %s scopes", kind)
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			service, err := app.New(cfg, app.Deps{Store: store.NewPostgresStore(db), Logger: logger})
			if err != nil {
				return err
			}
			result, err := service.Rebalance(ctx, cliSession, store.Scope{Kind: scopeKind, ParentID: strings.TrimSpace(parent)})
			if err != nil {
				return err
			}
			logger.Info("rebalance finished", zap.Any("result", result))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "scope kind: subject, topic or article")
	cmd.Flags().StringVar(&parent, "parent", "", "parent id for topic and article scopes")
	return cmd
}
