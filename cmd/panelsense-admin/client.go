package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dawidpodolak/panelsense-gateway/internal/audit"
	"github.com/dawidpodolak/panelsense-gateway/internal/auth"
)

// httpTimeout bounds a configuration push through the admin API.
const httpTimeout = 10 * time.Second

func newClientCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered panels",
	}
	cmd.AddCommand(
		newClientAddCmd(opts),
		newClientListCmd(opts),
		newClientRemoveCmd(opts),
		newClientSetConfigCmd(opts),
		newClientActiveCmd(opts, "enable", true),
		newClientActiveCmd(opts, "disable", false),
	)
	return cmd
}

func newClientAddCmd(opts *rootOptions) *cobra.Command {
	var (
		name       string
		secret     string
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "add <installation-id>",
		Short: "Register a panel and print its secret",
		Long: `Register a panel installation. Without --secret a random secret is
generated. The secret is printed once; only its hash is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			if !auth.IsValidInstallationID(id) {
				return fmt.Errorf("%w: %q", auth.ErrInvalidInstallationID, id)
			}

			generated := secret == ""
			if generated {
				var err error
				if secret, err = auth.GenerateSecret(); err != nil {
					return err
				}
			}
			hash, err := auth.HashSecret(secret)
			if err != nil {
				return err
			}

			configuration, err := readConfiguration(configFile)
			if err != nil {
				return err
			}

			repo, db, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			client := &auth.Client{
				InstallationID: id,
				Name:           name,
				SecretHash:     hash,
				Configuration:  configuration,
				IsActive:       true,
			}
			if err := repo.Create(ctx, client); err != nil {
				return err
			}
			recordAudit(cmd, db, audit.ActionClientCreate, id, map[string]any{
				"name":       name,
				"configured": configuration != "",
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "registered %s\n", id)
			if generated {
				fmt.Fprintf(out, "secret: %s\n", secret)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human readable panel name")
	cmd.Flags().StringVar(&secret, "secret", "", "Panel secret (default: generated)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Initial configuration blob file")
	return cmd
}

func newClientListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered panels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			clients, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(clients)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTALLATION ID\tNAME\tACTIVE\tCONFIGURED\tLAST SEEN")
			for _, c := range clients {
				lastSeen := "never"
				if c.LastSeenAt != nil {
					lastSeen = c.LastSeenAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n",
					c.InstallationID, c.Name, c.IsActive, c.Configuration != "", lastSeen)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newClientRemoveCmd(opts *rootOptions) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "remove <installation-id>",
		Short: "Delete a panel registration",
		Long: `Delete a panel registration. A connected panel keeps its session until
it reconnects; with --server the gateway drops it at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			recordAudit(cmd, db, audit.ActionClientDelete, args[0], nil)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return reportEviction(cmd, opts, server, args[0])
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Gateway base URL; drops the live session of the panel")
	return cmd
}

func newClientActiveCmd(opts *rootOptions, use string, active bool) *cobra.Command {
	short := "Allow a panel to connect again"
	if !active {
		short = "Refuse connections from a panel without deleting it"
	}

	action := audit.ActionClientEnable
	if !active {
		action = audit.ActionClientDisable
	}

	var server string

	cmd := &cobra.Command{
		Use:   use + " <installation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.SetActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			recordAudit(cmd, db, action, args[0], nil)
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, args[0])
			if active {
				return nil
			}
			return reportEviction(cmd, opts, server, args[0])
		},
	}

	if !active {
		cmd.Flags().StringVar(&server, "server", "", "Gateway base URL; drops the live session of the panel")
	}
	return cmd
}

func newClientSetConfigCmd(opts *rootOptions) *cobra.Command {
	var (
		file        string
		clearConfig bool
		server      string
	)

	cmd := &cobra.Command{
		Use:   "set-config <installation-id>",
		Short: "Replace the configuration blob of a panel",
		Long: `Replace the configuration blob of a panel. With --server the update goes
through the gateway admin API and is pushed to the panel at once if it is
connected; otherwise the database is updated and the panel receives the
blob on its next connection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if (file != "") == clearConfig {
				return fmt.Errorf("exactly one of --file or --clear is required")
			}
			configuration, err := readConfiguration(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if server != "" {
				delivered, err := pushConfiguration(cmd.Context(), opts, server, id, configuration)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "updated %s (delivered: %t)\n", id, delivered)
				return nil
			}

			repo, db, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.UpdateConfiguration(cmd.Context(), id, configuration); err != nil {
				return err
			}
			recordAudit(cmd, db, audit.ActionConfigUpdate, id, map[string]any{
				"delivered": false,
				"cleared":   configuration == "",
			})
			fmt.Fprintf(out, "updated %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "File holding the new configuration blob")
	cmd.Flags().BoolVar(&clearConfig, "clear", false, "Clear the configuration")
	cmd.Flags().StringVar(&server, "server", "", "Gateway base URL, e.g. http://127.0.0.1:8652")
	return cmd
}

// readConfiguration returns the contents of path, or "" for an empty path.
func readConfiguration(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading configuration: %w", err)
	}
	return string(data), nil
}

// adminRequest calls the gateway admin API with a freshly issued token.
func adminRequest(ctx context.Context, opts *rootOptions, server, method, path string, body io.Reader) (*http.Response, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	token, err := auth.GenerateAdminToken("panelsense-admin", cfg.Security.JWT.Secret, time.Minute)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

// responseError turns an unexpected admin API response into an error.
func responseError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s: %s: %s", op, resp.Status, strings.TrimSpace(string(msg)))
}

// pushConfiguration updates a panel through the admin API.
func pushConfiguration(ctx context.Context, opts *rootOptions, server, id, configuration string) (bool, error) {
	body, err := json.Marshal(map[string]string{"configuration": configuration})
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	resp, err := adminRequest(ctx, opts, server, http.MethodPut,
		"/api/v1/clients/"+url.PathEscape(id)+"/configuration", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("pushing configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, responseError("pushing configuration", resp)
	}

	var result struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return result.Delivered, nil
}

// evictSession asks the gateway to drop the live session of a panel and
// reports whether the panel was connected.
func evictSession(ctx context.Context, opts *rootOptions, server, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	resp, err := adminRequest(ctx, opts, server, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return false, fmt.Errorf("evicting session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("evicting session", resp)
	}
}

// reportEviction drops the live session of id when server is set.
func reportEviction(cmd *cobra.Command, opts *rootOptions, server, id string) error {
	if server == "" {
		return nil
	}
	evicted, err := evictSession(cmd.Context(), opts, server, id)
	if err != nil {
		return err
	}
	if evicted {
		fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s\n", id)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s was not connected\n", id)
	}
	return nil
}
