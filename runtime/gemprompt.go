// gemprompt
//
// Reads one prompt, sends it to Gemini and prints the generated text.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/requiem-ai/gemprompt/config"
	appctx "github.com/requiem-ai/gemprompt/context"
	"github.com/requiem-ai/gemprompt/llm"
	"github.com/requiem-ai/gemprompt/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	setupLogging(os.Stderr, config.DefaultLogLevel)

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		log.Fatal().Err(err).Msg("gemprompt failed")
	}
}

// newRootCmd builds the command tree. opts are applied to every responder,
// after the defaults each command sets.
func newRootCmd(opts ...llm.ResponderOption) *cobra.Command {
	var (
		envFile string
		cfg     *config.Config
	)

	root := &cobra.Command{
		Use:   "gemprompt",
		Short: "Send one prompt to Gemini and print the generated text",
		Long: `gemprompt reads a single line from standard input, sends it to the
Gemini API and prints the generated text.

  gemprompt            Prompt once and print the answer
  gemprompt setup      Save GOOGLE_API_KEY (and optional Telegram settings) to .env
  gemprompt telegram   Answer Telegram messages, one prompt per message`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err = config.Load(envFile)
			if err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), cfg.LogLevel)
			log.Debug().Str("model", cfg.Model).Str("env_file", cfg.EnvFile).Msg("Starting gemprompt")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			responderOpts := append([]llm.ResponderOption{llm.WithDiagnostics(cmd.OutOrStdout())}, opts...)
			return run(cmd.Context(),
				services.NewResponderService(cfg, responderOpts...),
				services.NewPromptService(cmd.InOrStdin(), cmd.OutOrStdout()),
			)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "path of the .env file to load and update")

	root.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Interactive setup of the API key and Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(),
				services.NewSetupService(cfg, cmd.InOrStdin(), cmd.OutOrStdout()),
			)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "telegram",
		Short: "Run the Telegram bot (long polling)",
		Long: `Runs a Telegram bot that answers every text message with the text Gemini
generates for it. Each message is an independent prompt. Set USER_ID to
restrict the bot to one Telegram user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			responderOpts := append([]llm.ResponderOption{llm.WithDiagnostics(io.Discard)}, opts...)
			return run(cmd.Context(),
				services.NewResponderService(cfg, responderOpts...),
				services.NewTelegramService(cfg),
			)
		},
	})

	return root
}

func run(ctx context.Context, svcs ...appctx.Service) error {
	appCtx, err := appctx.NewCtx(svcs...)
	if err != nil {
		return err
	}
	return appCtx.Run(ctx)
}

func setupLogging(out io.Writer, level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	})
	zerolog.TimeFieldFormat = time.RFC3339

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		fallthrough
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
