package cli

import (
	"fmt"

	"crm-finance/internal/db"
	"crm-finance/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCommand(e *env) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				ms, err := migrations.Discover()
				if err != nil {
					return err
				}
				for _, m := range ms {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", m.Version, m.Checksum[:12], m.Filename)
				}
				return nil
			}

			pool, err := db.NewPool(cmd.Context(), e.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := migrations.Apply(cmd.Context(), pool, e.log)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List embedded migrations without connecting")
	return cmd
}

func newSeedCommand(e *env) *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the default finance users (and optional demo inventory)",
		Long: `Insert the finance team users that order conversion assigns work to.
Existing rows are left alone, so the command can be run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, e.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			tx, err := pool.Begin(ctx)
			if err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			defer tx.Rollback(ctx)

			e.log.Info().Msg("seeding users")
			tag, err := tx.Exec(ctx, `
				INSERT INTO users (username, email, role)
				VALUES
				  ('finance', 'finance@example.com', 'finance'),
				  ('admin',   'admin@example.com',   'admin'),
				  ('sales',   'sales@example.com',   'sales')
				ON CONFLICT (username) DO NOTHING`)
			if err != nil {
				return fmt.Errorf("failed to seed users: %w", err)
			}
			users := tag.RowsAffected()

			var events int64
			if demo {
				e.log.Info().Msg("seeding demo inventory")
				tag, err = tx.Exec(ctx, `
					INSERT INTO inventory (event_name, category, event_date, supplier_name,
					                       total_tickets, available_tickets, buying_price, selling_price)
					SELECT v.event_name, v.category, CURRENT_DATE + v.days, v.supplier,
					       v.total, v.total, v.buying, v.selling
					FROM (VALUES
					  ('Abu Dhabi Grand Prix',  'F1',      45, 'Yas Hospitality', 40, 42000.00, 55000.00),
					  ('Wimbledon Finals',      'Tennis',  20, 'AELTC Partners',  12, 95000.00, 120000.00),
					  ('IPL Final',             'Cricket',  5, 'BCCI Box Office', 80,  8000.00,  11500.00)
					) AS v(event_name, category, days, supplier, total, buying, selling)
					WHERE NOT EXISTS (SELECT 1 FROM inventory i WHERE i.event_name = v.event_name)`)
				if err != nil {
					return fmt.Errorf("failed to seed inventory: %w", err)
				}
				events = tag.RowsAffected()
			}

			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("failed to commit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d inventory events\n", users, events)
			return nil
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "Also insert demo inventory")
	return cmd
}
