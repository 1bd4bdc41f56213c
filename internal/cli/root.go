// Package cli implements the snapharness command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snapshot-harness/internal/config"
	"snapshot-harness/internal/harness"
)

type globalOptions struct {
	paramsFile string
	envFile    string
	set        []string
	logLevel   string
	logFormat  string
}

// NewRootCommand builds the snapharness command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "snapharness",
		Short: "Exercise libvirt snapshots against a running VM",
		Long: `Drive virsh snapshot operations against a VM and check the results.

Parameters come from a YAML params file, SNAPHARNESS_<KEY> environment
variables (optionally loaded from a .env file) and --set key=value flags,
later sources winning.

Examples:
  snapharness memonly --set main_vm=vm1
  snapharness memonly --set main_vm=vm1 --set set_snapshot_no_in_xml=yes
  snapharness stress --params stress.yaml --set snapshot_type=external`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("snapharness version {{.Version}}\n")

	f := root.PersistentFlags()
	f.StringVar(&opts.paramsFile, "params", "", "YAML file with test parameters")
	f.StringVar(&opts.envFile, "env-file", ".env", "env file loaded before reading SNAPHARNESS_* variables")
	f.StringArrayVar(&opts.set, "set", nil, "override a parameter, key=value (repeatable)")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newMemOnlyCommand(opts), newStressCommand(opts))
	return root
}

// ExitCode maps a run error to a process exit status: 0 on success, 2 for a
// precondition failure and 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case harness.KindOf(err) == harness.Precondition:
		return 2
	}
	return 1
}

func newLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

// loadParams merges the params file, the environment and the overrides.
// environ is read after the env file is loaded so its variables take part.
func loadParams(opts *globalOptions, environ func() []string) (config.Params, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	var file config.Params
	if opts.paramsFile != "" {
		var err error
		if file, err = config.LoadFile(opts.paramsFile); err != nil {
			return nil, err
		}
	}
	over, err := config.ParseOverrides(opts.set)
	if err != nil {
		return nil, err
	}
	return config.Merge(file, config.FromEnviron(environ()), over), nil
}

// prepare sets up logging and loads the parameters for a subcommand.
func prepare(cmd *cobra.Command, opts *globalOptions) (*logrus.Logger, config.Params, error) {
	log, err := newLogger(opts.logLevel, opts.logFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	params, err := loadParams(opts, os.Environ)
	if err != nil {
		return nil, nil, err
	}
	return log, params, nil
}
