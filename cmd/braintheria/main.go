package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fiskasyela/braintheria-backend/internal/app"
	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/config"
	"github.com/fiskasyela/braintheria-backend/internal/db"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "braintheria",
	Short: "Braintheria Q&A bounty service",
	Long: `Braintheria is a question-and-answer service whose bounties live in an
on-chain escrow contract.
- Questions and answers are stored off-chain; their content is pinned and
  the content hash is registered on-chain together with the bounty.
- Accepting an answer pays the bounty to the answerer's wallet.
- The API merges the off-chain record with the live on-chain balance.
Run 'braintheria config init' to create braintheria.yml, then 'braintheria serve'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BRAINTHERIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/braintheria.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("api-url", "http://127.0.0.1:8080", "API base URL for remote commands")
	rootCmd.PersistentFlags().String("token", "", "bearer token for remote commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(questionCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(meCmd())
	rootCmd.AddCommand(eventsCmd())
}

// loadConfig reads the config file and layers BRAINTHERIA_* env overrides on
// top. A missing file is only an error when --config names it explicitly.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	explicit := path != ""
	if !explicit {
		path = config.Path(viper.GetString("workspace"))
	}
	data, err := os.ReadFile(path)
	if err != nil && (explicit || !os.IsNotExist(err)) {
		return nil, err
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}
	if viper.IsSet("workspace") {
		cfg.Database.Workspace = viper.GetString("workspace")
	}
	overrides := map[string]*string{
		"jwt-secret":       &cfg.Auth.JWTSecret,
		"rpc-url":          &cfg.Chain.RPCURL,
		"contract-address": &cfg.Chain.ContractAddress,
		"private-key":      &cfg.Chain.PrivateKey,
		"pinning-token":    &cfg.Content.Pinning.Token,
		"s3-access-key":    &cfg.Content.S3.AccessKey,
		"s3-secret-key":    &cfg.Content.S3.SecretKey,
	}
	for key, field := range overrides {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*field = v
		}
	}
	if v := viper.GetInt64("chain-id"); v > 0 {
		cfg.Chain.ChainID = v
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the API, the event stream and the webhook forwarder, and run the reconciler in the background until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			a, err := app.Build(cmd.Context(), cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Printf("Serving Braintheria API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath)
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := app.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Printf("Database ready at %s\n", db.Path(cfg.Database.Workspace))
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-check pending chain transactions once",
		Long:  "Run one reconciler sweep: re-query receipts for journal entries still pending and finish their follow-ups.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			rec := a.Reconciler
			pending, err := rec.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if progress && len(pending) > 0 && !viper.GetBool("json") {
				bar := progressbar.NewOptions(len(pending),
					progressbar.OptionClearOnFinish(),
					progressbar.OptionSetDescription("Checking transactions..."),
					progressbar.OptionShowCount(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
				rec.OnChecked = func(domain.ChainTx) { _ = bar.Add(1) }
				defer bar.Finish()
			}
			report, err := rec.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			a.Engine.Wait()
			if viper.GetBool("json") {
				return printJSON(report)
			}
			fmt.Printf("checked=%d resolved=%d abandoned=%d pending=%d errors=%d\n",
				report.Checked, report.Resolved, report.Abandoned, report.Pending, report.Errors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", true, "show a progress bar")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage braintheria.yml"}
	cfgCmd.AddCommand(configInitCmd())
	cfgCmd.AddCommand(configValidateCmd())
	return cfgCmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				workspace := viper.GetString("workspace")
				if _, err := db.EnsureWorkspace(workspace); err != nil {
					return err
				}
				path = config.Path(workspace)
			}
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config after env overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			out := map[string]any{
				"valid":         true,
				"content":       cfg.Content.Backend,
				"contract":      cfg.Chain.ContractAddress,
				"chain_id":      cfg.Chain.ChainID,
				"accept_status": cfg.Lifecycle.AcceptStatus,
				"webhooks":      len(cfg.Webhooks),
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Printf("Config OK: contract %s, content backend %s, accept status %s\n",
				cfg.Chain.ContractAddress, cfg.Content.Backend, cfg.Lifecycle.AcceptStatus)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var sub, wallet string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
				return errors.New("auth.jwt_secret is required (or set BRAINTHERIA_JWT_SECRET)")
			}
			if wallet != "" && !chain.ValidAddress(wallet) {
				return fmt.Errorf("--wallet %q is not a hex address", wallet)
			}
			token, err := auth.SignToken(cfg.Auth.JWTSecret, sub, wallet, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "principal id")
	cmd.Flags().StringVar(&wallet, "wallet", "", "funding address claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
