package cli

import (
	"github.com/absmach/fedcycle"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/absmach/fedcycle/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
	version   string
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

func NewProcessesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processes [create|view|list|configs|checkpoint]",
		Short: "Processes manager",
		Long:  `Create and inspect federated-learning processes.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Create process",
		Long: `Create a process from a TOML or YAML definition file.

Examples:
  fedcycle-cli processes create mnist.toml`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			def, err := fedcycle.LoadProcessFile(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			p, err := fsdk.CreateProcess(def)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, summary(p))
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <name> [version]",
		Short: "View process",
		Long:  `View a process. Without a version the latest one is shown.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 || len(args) > 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}
			v := ""
			if len(args) == 2 {
				v = args[1]
			}

			p, err := fsdk.GetProcess(args[0], v)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, summary(p))
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		Long:  `List processes.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListProcesses(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			for i := range page.Processes {
				page.Processes[i] = summary(page.Processes[i])
			}
			logJSONCmd(*cmd, page)
		},
	}

	configsCmd := &cobra.Command{
		Use:   "configs <name>",
		Short: "View process configs",
		Long:  `View the server and client config of a process.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			c, err := fsdk.GetConfigs(args[0], version)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, c)
		},
	}

	var number uint64
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint <name>",
		Short: "View checkpoint",
		Long:  `View a checkpoint of a process. Without --number the current one is shown.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			c, err := fsdk.GetCheckpoint(args[0], version, number)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, c)
		},
	}
	checkpointCmd.Flags().Uint64VarP(&number, "number", "n", 0, "Checkpoint number")

	cmd.AddCommand(createCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(listCmd)
	cmd.AddCommand(configsCmd)
	cmd.AddCommand(checkpointCmd)

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	cmd.PersistentFlags().StringVarP(
		&version,
		"version",
		"v",
		"",
		"Process version, latest when empty",
	)

	return cmd
}

// summary drops the binary assets of a process so it prints legibly. Plan
// and protocol names are kept.
func summary(p fl.Process) fl.Process {
	p.Model = nil
	p.AveragingPlan = nil
	p.Plans = names(p.Plans)
	p.Protocols = names(p.Protocols)

	return p
}

func names(blobs map[string][]byte) map[string][]byte {
	if len(blobs) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(blobs))
	for k := range blobs {
		out[k] = nil
	}

	return out
}
