package cli

import (
	"github.com/spf13/cobra"

	"snapshot-harness/internal/cmdutil"
	"snapshot-harness/internal/harness"
	"snapshot-harness/internal/relabel"
	"snapshot-harness/internal/scenario"
	"snapshot-harness/internal/service"
)

func newStressCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Create many snapshots, restart libvirt and check the VM",
		Long: `Copy the disk under test (target_dev) into work_dir, create
snapshot_count internal or external (--disk-only --atomic) snapshots,
restart libvirt_service and check that domstats, domblkinfo and
snapshot-list still work. Teardown deletes every snapshot, puts the disk
back and restores the domain XML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, params, err := prepare(cmd, opts)
			if err != nil {
				return err
			}
			cfg, err := params.StressConfig()
			if err != nil {
				return harness.Preconditionf(err, "invalid parameters")
			}
			run := cmdutil.New(log)
			return execute(cmd.Context(), log, "stress", cfg.Common, run,
				func(env *scenario.Env, run cmdutil.Runner) harness.Phases {
					daemon := service.NewDaemon(cfg.Service, run, env.Virsh, env.Log)
					daemon.Settle = cfg.Settle
					return scenario.NewStress(cfg, env, daemon, relabel.New(env.Log)).Phases()
				})
		},
	}
}
