// ABOUTME: Entry point for the ambivo-gpt gateway
// ABOUTME: Cobra commands to serve, print the API schema, and check health

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ambivo-corp/ambivo-gpt/internal/config"
	"github.com/ambivo-corp/ambivo-gpt/internal/gateway"
	"github.com/ambivo-corp/ambivo-gpt/internal/schema"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _     _                               _
  __ _ _ __ ___ | |__ (_)_   _____         __ _ _ __ | |_
 / _' | '_ ' _ \| '_ \| \ \ / / _ \ _____ / _' | '_ \| __|
| (_| | | | | | | |_) | |\ V / (_) |_____| (_| | |_) | |_
 \__,_|_| |_| |_|_.__/|_| \_/ \___/       \__, | .__/ \__|
                                          |___/|_|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ambivo-gpt",
		Short:         "Natural language CRM gateway for GPT actions and MCP clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default $AMBIVO_GPT_CONFIG or $XDG_CONFIG_HOME/ambivo-gpt/gateway.yaml)")

	load := func() (*config.Config, string, error) {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Resolve(path)
		if err != nil {
			return nil, path, fmt.Errorf("loading config: %w", err)
		}
		return cfg, path, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newSchemaCmd(load),
		newHealthCmd(load),
		newVersionCmd(),
	)
	return root
}

type configLoader func() (*config.Config, string, error)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), load)
		},
	}
}

func runServe(ctx context.Context, load configLoader) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := load()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if configPath == "" {
		configPath = "(none, defaults and environment)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("CRM:       %s\n", cfg.CRM.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Public:    %s\n", cfg.Server.PublicURL)
	if cfg.CRM.AuthToken == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Default credential: none (callers must send their own)")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	fmt.Println()

	logger.Info("starting ambivo-gpt",
		"version", version,
		"http_addr", cfg.Server.HTTPAddr,
		"crm_base_url", cfg.CRM.BaseURL,
		"tailscale", cfg.Tailscale.Enabled,
	)

	gw, err := gateway.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func newSchemaCmd(load configLoader) *cobra.Command {
	var format string
	var manifest bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the OpenAPI document or plugin manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			return writeSchema(cmd.Context(), cmd.OutOrStdout(), cfg, format, manifest)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().BoolVar(&manifest, "manifest", false, "print the plugin manifest instead of the OpenAPI document")
	return cmd
}

func writeSchema(ctx context.Context, w io.Writer, cfg *config.Config, format string, manifest bool) error {
	set, err := schema.Build(ctx, schema.Options{
		PublicURL:    cfg.Server.PublicURL,
		Version:      version,
		ContactEmail: cfg.Plugin.ContactEmail,
		LogoURL:      cfg.Plugin.LogoURL,
		LegalInfoURL: cfg.Plugin.LegalInfoURL,
	})
	if err != nil {
		return err
	}

	src := set.OpenAPIJSON
	if manifest {
		src = set.ManifestJSON
	}

	switch format {
	case "json":
	case "yaml", "yml":
		if manifest {
			if src, err = schema.JSONToYAML(src); err != nil {
				return err
			}
		} else {
			src = set.OpenAPIYAML
		}
	default:
		return fmt.Errorf("unknown format %q: use json or yaml", format)
	}

	if _, err := w.Write(src); err != nil {
		return err
	}
	if len(src) > 0 && src[len(src)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

func newHealthCmd(load configLoader) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := url
			if target == "" {
				cfg, _, err := load()
				if err != nil {
					return err
				}
				target = "http://" + dialableAddr(cfg.Server.HTTPAddr) + "/health"
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), target)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "health endpoint to query (default from server.http_addr)")
	return cmd
}

// dialableAddr replaces a wildcard listen host with loopback.
func dialableAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func runHealth(ctx context.Context, w io.Writer, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(w, "healthy")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ambivo-gpt %s\n", version)
		},
	}
}
