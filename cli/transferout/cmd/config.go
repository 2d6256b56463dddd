package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alphabill-org/transferout/logger"
)

const (
	// environment variables are TO_<FLAG NAME>, ie TO_REST_ADDRESS
	envPrefix = "TO"

	defaultHomeDirName      = ".transferout"
	defaultConfigFile       = "config.props"
	defaultLoggerConfigFile = "logger-config.yaml"

	// home and config are resolved before the config file is read
	keyHome   = "home"
	keyConfig = "config"

	flagNameMetrics       = "metrics"
	flagNameLoggerCfgFile = "logger-config"
	flagNameLogOutputFile = "log-file"
	flagNameLogLevel      = "log-level"
	flagNameLogFormat     = "log-format"
)

type (
	LoggerFactory func(cfg *logger.LogConfiguration) (*slog.Logger, error)

	/*
	baseConfiguration holds the flags shared by all the commands and the
	logger and observability built from them.
	*/
	baseConfiguration struct {
		HomeDir string
		// properties file, relative path is relative to HomeDir
		CfgFile string
		// YAML file, relative path is relative to HomeDir
		LogCfgFile string

		loggerBuilder LoggerFactory
		observe       *observability
	}
)

func (c *baseConfiguration) addFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&c.HomeDir, keyHome, "", fmt.Sprintf("home directory of the engine (default is %s)", defaultHomeDir()))
	f.StringVar(&c.CfgFile, keyConfig, "", fmt.Sprintf("configuration file (default is $TO_HOME/%s)", defaultConfigFile))
	f.String(flagNameMetrics, "", "metrics exporter, one of: stdout, prometheus. Metrics are disabled when not set")

	f.StringVar(&c.LogCfgFile, flagNameLoggerCfgFile, defaultLoggerConfigFile, "logger configuration file, relative path is relative to $TO_HOME")
	// no defaults so that we know when to take the value from the logger config file
	f.String(flagNameLogOutputFile, "", "log file or one of: stdout, stderr, discard")
	f.String(flagNameLogLevel, "", "log level, one of: TRACE, DEBUG, INFO, WARN, ERROR, NONE")
	f.String(flagNameLogFormat, "", "log format, one of: text, json, console, ecs")
}

/*
resolvePaths sets home directory and config file when not given as flags,
environment is checked first and then defaults are used.
*/
func (c *baseConfiguration) resolvePaths() {
	c.HomeDir = firstNonEmpty(c.HomeDir, os.Getenv(envName(keyHome)), defaultHomeDir())
	c.CfgFile = c.inHome(firstNonEmpty(c.CfgFile, os.Getenv(envName(keyConfig)), defaultConfigFile))
}

func (c *baseConfiguration) inHome(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.HomeDir, name)
}

func (c *baseConfiguration) defaultDBFile() string {
	return c.inHome(defaultDBFileName)
}

/*
loadConfig assigns flags which were not set on the command line from
environment or the config file, in that order of precedence.
*/
func (c *baseConfiguration) loadConfig(cmd *cobra.Command) error {
	c.resolvePaths()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if _, err := os.Stat(c.CfgFile); err == nil {
		v.SetConfigFile(c.CfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", c.CfgFile, err)
		}
	}

	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == keyHome || f.Name == keyConfig {
			return
		}
		// AutomaticEnv doesn't map dashes
		if strings.Contains(f.Name, "-") {
			if err := v.BindEnv(f.Name, envName(f.Name)); err != nil {
				errs = append(errs, fmt.Errorf("binding flag %q to environment: %w", f.Name, err))
				return
			}
		}
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, fmt.Sprint(v.Get(f.Name))); err != nil {
			errs = append(errs, fmt.Errorf("setting flag %q: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

/*
loggerConfig loads logger configuration file and applies log flags set on
the command line over it. Missing default config file is not an error.
*/
func (c *baseConfiguration) loggerConfig(flags *pflag.FlagSet) (*logger.LogConfiguration, error) {
	cfg := &logger.LogConfiguration{}
	file := filepath.Clean(c.inHome(c.LogCfgFile))
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decoding logger configuration (%s): %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && file == c.inHome(defaultLoggerConfigFile):
		// default file is optional
	default:
		return nil, fmt.Errorf("opening logger configuration file: %w", err)
	}

	for name, value := range map[string]*string{
		flagNameLogLevel:      &cfg.Level,
		flagNameLogFormat:     &cfg.Format,
		flagNameLogOutputFile: &cfg.OutputPath,
	} {
		if !flags.Changed(name) {
			continue
		}
		if *value, err = flags.GetString(name); err != nil {
			return nil, fmt.Errorf("reading flag %q: %w", name, err)
		}
	}
	return cfg, nil
}

func (c *baseConfiguration) initLogger(cmd *cobra.Command) (*slog.Logger, error) {
	cfg, err := c.loggerConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	log, err := c.loggerBuilder(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log, nil
}

func envName(flag string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func defaultHomeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		panic("user home directory is not defined: " + err.Error())
	}
	return filepath.Join(dir, defaultHomeDirName)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
