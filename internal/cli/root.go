package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragchat/config"
	"ragchat/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	verbose bool
	log     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Ask questions about a PDF and get answers drawn only from it",
	Long: `ragchat ingests a PDF into a vector store and answers questions strictly
from the retrieved passages. When the passages do not contain the answer it
replies with a fixed refusal sentence instead of guessing.

Configuration comes from rag.yaml, a .env file in the root directory and the
process environment (PROVIDER, OPENAI_API_KEY, GOOGLE_API_KEY, VECTOR_STORE,
PGVECTOR_URL, PGVECTOR_COLLECTION, ...).

Example usage:
  ragchat ingest                      # Ingest ./document.pdf
  ragchat chat                        # Interactive questions
  ragchat search -q "garantia" -k 5   # Inspect retrieved passages
  ragchat ask -q "Qual o prazo?"      # Single question`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := config.LoadDotEnv(rootDir); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		cfg.ApplyEnv(os.LookupEnv)

		log, err = logger.New(cfg.Logging.Level, verbose)
		if err != nil {
			return err
		}

		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute runs the root command. The first SIGINT or SIGTERM cancels the
// command's context and a second one terminates the process.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

func getLogger() *zap.Logger {
	return logger.OrNop(log)
}
