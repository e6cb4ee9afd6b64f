// Package main provides the mcpgate command: a policy-enforcing MCP gateway
// with an operations HTTP surface, plus config validation helpers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	mcpgateway "github.com/ferro-labs/mcp-gateway"
	"github.com/ferro-labs/mcp-gateway/internal/logging"
	"github.com/ferro-labs/mcp-gateway/internal/version"
	"github.com/ferro-labs/mcp-gateway/plugin"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/circuitbreaker"
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/codesafety"
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/outputlength"
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/piifilter"
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/ratelimit"
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/schemaguard"
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/toolcache"
	_ "github.com/ferro-labs/mcp-gateway/internal/plugins/urlreputation"
)

func main() {
	root := &cobra.Command{
		Use:           "mcpgate",
		Short:         "Policy-enforcing MCP gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), validateCmd(), pluginsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		cfgPath   string
		addr      string
		logLevel  string
		logFormat string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway operations server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup(logLevel, logFormat)

			var cfg mcpgateway.Config
			if cfgPath != "" {
				loaded, err := mcpgateway.LoadConfig(cfgPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			}

			gw, err := mcpgateway.New(cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			srv := &http.Server{
				Addr:         addr,
				Handler:      newRouter(gw),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			// Graceful shutdown on SIGINT / SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logging.Logger.Error("shutdown error", "error", err)
				}
			}()

			logging.Logger.Info("mcpgate listening",
				"addr", addr, "version", version.Version, "plugins", gw.Manager().PluginCount())
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			logging.Logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", os.Getenv("MCPGATE_CONFIG"), "path to gateway config (JSON/YAML)")
	cmd.Flags().StringVar(&addr, "listen", ":9090", "operations server listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug/info/warn/error)")
	cmd.Flags().StringVar(&logFormat, "log-format", os.Getenv("LOG_FORMAT"), "log format (json/text)")
	return cmd
}

// newRouter builds the operations HTTP surface: health, metrics, and plugin
// introspection. Operation traffic itself flows through the Gateway API, not
// over this server.
func newRouter(gw *mcpgateway.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/plugins", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"plugins": gw.Manager().Plugins(),
		})
	})
	return r
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mcpgateway.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := mcpgateway.ValidateConfig(*cfg); err != nil {
				return err
			}

			fmt.Printf("✓ Config is valid\n")
			fmt.Printf("  Plugins:      %d\n", len(cfg.Plugins))
			fmt.Printf("  Decision log: %s\n", orDefault(cfg.DecisionLog.Driver, "none"))
			for _, p := range cfg.Plugins {
				hooks := make([]string, 0, len(p.Hooks))
				for _, h := range p.Hooks {
					hooks = append(hooks, string(h))
				}
				mode := p.Mode
				if mode == "" {
					mode = plugin.ModeEnforce
				}
				fmt.Printf("    %-24s kind=%s mode=%s priority=%d hooks=%s\n",
					p.Name, p.Kind, mode, p.Priority, strings.Join(hooks, ","))
			}
			return nil
		},
	}
}

func pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered plugin kinds",
		Run: func(_ *cobra.Command, _ []string) {
			kinds := plugin.Kinds()
			if len(kinds) == 0 {
				fmt.Println("No plugin kinds registered.")
				return
			}
			fmt.Println("Registered plugin kinds:")
			for _, kind := range kinds {
				fmt.Printf("  %s\n", kind)
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.Info())
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
