package cli

import (
	"time"

	"github.com/spf13/cobra"

	"snapshot-harness/internal/cmdutil"
	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/scenario"
)

func newMemOnlyCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "memonly",
		Short: "Create a memory-only snapshot that excludes every disk",
		Long: `Create one live snapshot that stores guest memory in mem_file and
excludes every disk, then check that no disk gained an overlay.

Disks are excluded with --diskspec <dev>,snapshot=no, or, with
set_snapshot_no_in_xml=yes (or a variant containing xml_snapshot_no), by
setting snapshot='no' on every disk in the domain XML beforehand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, params, err := prepare(cmd, opts)
			if err != nil {
				return err
			}
			cfg, err := params.MemOnlyConfig(time.Now())
			if err != nil {
				return harness.Preconditionf(err, "invalid parameters")
			}
			run := cmdutil.New(log)
			return execute(cmd.Context(), log, "memonly", cfg.Common, run,
				func(env *scenario.Env, _ cmdutil.Runner) harness.Phases {
					return scenario.NewMemOnly(cfg, env).Phases()
				})
		},
	}
}
