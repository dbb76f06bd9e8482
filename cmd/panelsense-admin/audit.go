package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dawidpodolak/panelsense-gateway/internal/audit"
	"github.com/dawidpodolak/panelsense-gateway/internal/infrastructure/database"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		action         string
		installationID string
		limit          int
		offset         int
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail of administrative actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := audit.NewSQLiteRepository(db.DB).List(cmd.Context(), audit.Filter{
				Action:         action,
				InstallationID: installationID,
				Limit:          limit,
				Offset:         offset,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tINSTALLATION ID\tACTOR\tSOURCE")
			for _, e := range res.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Action,
					orDash(e.InstallationID), orDash(e.Actor), e.Source)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if shown := offset + len(res.Entries); shown < res.Total {
				fmt.Fprintf(out, "showing %d of %d entries\n", len(res.Entries), res.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "Only show this action, e.g. client.create")
	cmd.Flags().StringVar(&installationID, "installation-id", "", "Only show entries for this panel")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries (max 200)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// recordAudit stores an entry for a completed CLI action. A failed write is
// reported on stderr but does not fail the command.
func recordAudit(cmd *cobra.Command, db *database.DB, action, installationID string, details map[string]any) {
	err := audit.NewSQLiteRepository(db.DB).Create(cmd.Context(), &audit.Entry{
		Action:         action,
		InstallationID: installationID,
		Actor:          currentActor(),
		Source:         audit.SourceCLI,
		Details:        details,
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: audit entry not recorded: %v\n", err)
	}
}

// currentActor names the operating system user running the command.
func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
