package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"treta/internal/app"
	"treta/internal/config"
	"treta/internal/logging"
	tretasdk "treta/sdk/go"
)

var version = "dev"

// out receives every command's output.
var out io.Writer = os.Stdout

var rootCmd = &cobra.Command{
	Use:   "treta",
	Short: "Treta side-business operator",
	Long: `Treta scans communities for pain points, turns them into product
proposals and launches, and runs a strategy loop over the launches.
- serve: the event consumer, the schedulers and the HTTP API in one process.
- actions: review the strategy actions waiting for confirmation.
- decisions: the audit trail of every autonomy and strategy decision.
- event send: publish an event to a running instance.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TRETA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ./treta.yml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("api-url", "", "talk to a running instance instead of the local data dir")
	rootCmd.PersistentFlags().String("token", "", "bearer token for --api-url")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(decisionsCmd())
	rootCmd.AddCommand(integrityCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(schedulerCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config"), viper.GetViper())
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel)
}

// withApp builds the local runtime without starting its loops.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Build(ctx, cfg, app.Options{Version: version, Log: log})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// remote returns an API client when --api-url is set.
func remote() (*tretasdk.Client, bool) {
	base := viper.GetString("api-url")
	if base == "" {
		return nil, false
	}
	c := tretasdk.New(base)
	c.BearerToken = viper.GetString("token")
	return c, true
}

// client always returns an API client, falling back to the configured listen
// address and token.
func client() (*tretasdk.Client, error) {
	if c, ok := remote(); ok {
		return c, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c := tretasdk.New(apiBase(cfg.HTTP.Addr))
	c.BearerToken = viper.GetString("token")
	if c.BearerToken == "" {
		c.BearerToken = cfg.Auth.APIToken
	}
	return c, nil
}

func apiBase(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") || strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1:" + addr[strings.LastIndex(addr, ":")+1:]
	}
	return "http://" + addr
}

func printJSON(v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
