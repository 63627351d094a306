package cli

import "github.com/spf13/cobra"

func NewWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers [register|participation]",
		Short: "Workers manager",
		Long:  `Register workers and inspect their participation.`,
	}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register worker",
		Long:  `Register a new worker and print its id.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			w, err := fsdk.RegisterWorker()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, w)
		},
	}

	participationCmd := &cobra.Command{
		Use:   "participation <worker_id> <name> [version]",
		Short: "Last participation",
		Long:  `Show the sequence of the last cycle of a process the worker was admitted into.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 || len(args) > 3 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}
			v := ""
			if len(args) == 3 {
				v = args[2]
			}

			seq, err := fsdk.GetLastParticipation(args[0], args[1], v)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, map[string]any{"worker_id": args[0], "sequence": seq})
		},
	}

	cmd.AddCommand(registerCmd)
	cmd.AddCommand(participationCmd)

	return cmd
}
