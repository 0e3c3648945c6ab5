// Command nim-runtime serves the agent pipeline and its memory
// administration API over HTTP and websocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/becomeliminal/nim-runtime/engine"
	"github.com/becomeliminal/nim-runtime/logger"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "nim-runtime",
	Short: "Hook-driven agent runtime with vector memory",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
			return err
		}
		log := logger.For("main")

		rt, err := build(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				log.Warn().Err(err).Msg("close runtime")
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().
			Str("addr", cfg.Addr).
			Strs("collections", cfg.Collections).
			Str("embedder", cfg.Embedder).
			Str("reasoner", cfg.Reasoner).
			Bool("persistent", cfg.DataDir != "").
			Msg("starting")
		return rt.start(ctx, cfg.Addr)
	},
}

func init() {
	viper.SetDefault("addr", ":8080")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "console")
	viper.SetDefault("embedder", "mock")
	viper.SetDefault("embedding-cache", 10000)
	viper.SetDefault("reasoner", "echo")
	viper.SetDefault("stage-timeout", engine.DefaultStageTimeout)
	viper.SetDefault("rate-burst", 5)
	viper.SetDefault("episodic-writes", true)

	flags := rootCmd.PersistentFlags()
	flags.String("addr", ":8080", "listen address")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("data", "", "directory for persistent vector memory (empty keeps it in memory)")
	flags.Bool("compress", false, "gzip persisted vector memory")
	flags.StringSlice("collections", nil, "vector memory collections (default episodic,declarative,procedural)")
	flags.String("embedder", "mock", "embedder: mock, openai, onnx")
	flags.String("embedding-model", "", "OpenAI embedding model")
	flags.Int64("embedding-cache", 10000, "cached embeddings (0 disables)")
	flags.String("onnx-model", "", "ONNX model path")
	flags.String("onnx-tokenizer", "", "tokenizer.json path for the ONNX model")
	flags.String("onnx-library", "", "onnxruntime shared library path")
	flags.String("reasoner", "echo", "reasoner: echo, anthropic, openai")
	flags.String("model", "", "reasoner model")
	flags.String("system-prompt", "", "system prompt for the reasoner")
	flags.String("openai-base-url", "", "OpenAI compatible API base URL")
	flags.Duration("stage-timeout", engine.DefaultStageTimeout, "per stage timeout")
	flags.Int("rate-limit", 0, "messages per user per minute (0 disables)")
	flags.Int("rate-burst", 5, "rate limit burst")
	flags.Bool("episodic-writes", true, "store each message in episodic memory")

	for _, name := range []string{
		"addr", "log-level", "log-format", "data", "compress", "collections",
		"embedder", "embedding-model", "embedding-cache",
		"onnx-model", "onnx-tokenizer", "onnx-library",
		"reasoner", "model", "system-prompt", "openai-base-url",
		"stage-timeout", "rate-limit", "rate-burst", "episodic-writes",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	// Provider keys keep their conventional unprefixed names.
	if err := viper.BindEnv("anthropic-api-key", "ANTHROPIC_API_KEY"); err != nil {
		panic(err)
	}
	if err := viper.BindEnv("openai-api-key", "OPENAI_API_KEY"); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("nim")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
