package main

import (
	"log"

	"github.com/absmach/fedcycle"
	"github.com/absmach/fedcycle/cli"
	"github.com/absmach/fedcycle/pkg/sdk"
	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "fedcycle-cli",
		Short: "fedcycle CLI",
		Long:  `fedcycle CLI is a command line interface for hosting federated-learning processes and taking part in their cycles.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := fedcycle.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			cli.SetSDK(sdk.NewSDK(sdk.Config{
				ManagerURL:      cfg.Manager.URL,
				TLSVerification: cfg.Manager.TLSVerification,
			}))

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a TOML config file")

	rootCmd.AddCommand(cli.NewProcessesCmd())
	rootCmd.AddCommand(cli.NewCyclesCmd())
	rootCmd.AddCommand(cli.NewWorkersCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
