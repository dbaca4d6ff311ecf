// Package cmd provides the embedjob command-line interface.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EMBEDJOB_MONGO_URI.
const EnvPrefix = "EMBEDJOB"

const defaultEnvFile = ".env"

//nolint:gochecknoglobals // Standard Cobra CLI pattern
var (
	cfgFile string
	envFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd() //nolint:gochecknoglobals // Standard Cobra CLI pattern

// exitCodeError carries a process exit status out of a command without
// printing anything further.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embedjob",
		Short: "Batch embedding job for published articles",
		Long: `embedjob computes vector embeddings for every published article through the
OpenAI batch API and stores them in a vector index.

A job moves through the initializing, building_batches, checking_status and
updating_index stages. Its progress is persisted, so an
interrupted job can be resumed by id.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")
	return cmd
}

// Execute runs the root command and exits with the command's status.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var exit *exitCodeError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// loadConfig reads defaults, the config file, the dotenv file, the environment
// and the logging flags, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
		return nil, fmt.Errorf("failed to bind log-level flag: %w", err)
	}
	if err := v.BindPFlag("log.format", flags.Lookup("log-format")); err != nil {
		return nil, fmt.Errorf("failed to bind log-format flag: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	return config.New(v)
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing default file is ignored.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

// configureLogging installs the console handler plus extra handlers.
func configureLogging(cfg *config.Config, extra ...slog.Handler) error {
	if err := slogger.Configure(slogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}, extra...); err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}
	return nil
}
