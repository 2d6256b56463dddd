package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type (
	transferOutApp struct {
		baseCmd    *cobra.Command
		baseConfig *baseConfiguration
	}

	console interface {
		Println(a ...any)
	}

	stdoutConsole struct{}
)

// consoleWriter is where the commands print their results, tests replace it.
var consoleWriter console = stdoutConsole{}

func (stdoutConsole) Println(a ...any) { fmt.Println(a...) }

/*
New returns the "transferout" CLI app, logF is used to build the logger once
the configuration is loaded.
*/
func New(logF LoggerFactory) *transferOutApp {
	config := &baseConfiguration{loggerBuilder: logF}
	baseCmd := &cobra.Command{
		Use:           "transferout",
		Short:         "The credit transfer out engine",
		Long:          `Moves credits off the gaming machine through the configured transfer providers and recovers transfers interrupted by restart.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.init(cmd); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			return nil
		},
	}
	config.addFlags(baseCmd)
	baseCmd.AddCommand(
		newRunCmd(config),
		newRecoverCmd(config),
		newLogCmd(config),
	)
	return &transferOutApp{baseCmd: baseCmd, baseConfig: config}
}

// Execute runs the command selected by the arguments and shuts down metrics exporters.
func (a *transferOutApp) Execute(ctx context.Context) (err error) {
	defer func() {
		if a.baseConfig.observe != nil {
			err = errors.Join(err, a.baseConfig.observe.Shutdown())
		}
	}()
	return a.baseCmd.ExecuteContext(ctx)
}

func (c *baseConfiguration) init(cmd *cobra.Command) error {
	if err := c.loadConfig(cmd); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	log, err := c.initLogger(cmd)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	exporter, err := cmd.Flags().GetString(flagNameMetrics)
	if err != nil {
		return fmt.Errorf("reading flag %q: %w", flagNameMetrics, err)
	}
	if c.observe, err = newObservability(exporter, log); err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	return nil
}
