package cli

import (
	"os"

	"github.com/absmach/fedcycle/pkg/sdk"
	"github.com/spf13/cobra"
)

var bandwidth sdk.CycleRequest

func NewCyclesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycles [list|request|report|validate]",
		Short: "Cycles manager",
		Long:  `List cycles, join the open cycle and report diffs.`,
	}

	listCmd := &cobra.Command{
		Use:   "list <name>",
		Short: "List cycles",
		Long:  `List the cycles of a process in sequence order.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cycles, err := fsdk.ListCycles(args[0], version)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, cycles)
		},
	}

	requestCmd := &cobra.Command{
		Use:   "request <worker_id> <name>",
		Short: "Request cycle",
		Long: `Ask to join the open cycle of a process.

Examples:
  fedcycle-cli cycles request 7d9f2c1e-5b1a-4c8e-9d8f-0a1b2c3d4e5f mnist --upload 20 --download 50`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			req := bandwidth
			req.WorkerID = args[0]
			req.Model = args[1]
			req.Version = version

			d, err := fsdk.RequestCycle(req)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			d.Plans = nil
			d.Protocols = nil
			logJSONCmd(*cmd, d)
		},
	}
	requestCmd.Flags().Float64Var(&bandwidth.Ping, "ping", 0, "Measured ping in milliseconds")
	requestCmd.Flags().Float64Var(&bandwidth.Upload, "upload", 0, "Measured upload speed")
	requestCmd.Flags().Float64Var(&bandwidth.Download, "download", 0, "Measured download speed")

	reportCmd := &cobra.Command{
		Use:   "report <worker_id> <request_key> <diff_file>",
		Short: "Report diff",
		Long:  `Report a CBOR-encoded diff for an admitted cycle.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 3 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			diff, err := os.ReadFile(args[2])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if err := fsdk.ReportDiff(args[0], args[1], diff); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <cycle_id> <worker_id> <request_key>",
		Short: "Validate request key",
		Long:  `Check whether a request key admits a worker into a cycle.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 3 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			valid, err := fsdk.ValidateRequestKey(args[0], args[1], args[2])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, map[string]bool{"valid": valid})
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(requestCmd)
	cmd.AddCommand(reportCmd)
	cmd.AddCommand(validateCmd)

	cmd.PersistentFlags().StringVarP(
		&version,
		"version",
		"v",
		"",
		"Process version, latest when empty",
	)

	return cmd
}
