package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/federated-graph/gwcore/server"
)

var configPath string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of the federation gateway",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("federation-gateway " + server.Version())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the federation gateway server",
	Run: func(cmd *cobra.Command, args []string) {
		server.Run(configPath)
	},
}

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose the configured subgraphs and print the supergraph SDL",
	Run: func(cmd *cobra.Command, args []string) {
		if err := server.Compose(configPath, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd := &cobra.Command{Use: "federation-gateway"}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "gateway.yaml", "path to the gateway configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(composeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
