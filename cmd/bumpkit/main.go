package main

import (
	"encoding/json"
	"fmt"
	"os"

	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/spf13/cobra"
)

func main() {
	configPath, set := os.LookupEnv("BUMPKIT_CONFIG")
	if !set {
		configPath = "config.toml"
	}
	config := bump.LoadConfig(configPath)

	// define root command
	rootCmd := &cobra.Command{
		Use: "bumpkit",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(0)
		},
	}

	// Add flags for each configuration option
	rootCmd.PersistentFlags().StringVar(&config.BumpKit.Network, "network", config.BumpKit.Network, "Network (mainnet, testnet3, signet, regtest)")
	rootCmd.PersistentFlags().StringVar(&config.BumpKit.AnchorValue, "anchor-value", config.BumpKit.AnchorValue, "Anchor output value policy (zero, min)")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.Port, "webapi-port", config.WebAPI.Port, "Web API port")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.Bind, "webapi-bind", config.WebAPI.Bind, "Web API bind")
	rootCmd.PersistentFlags().StringVar(&config.Store.DBFile, "store-db-file", config.Store.DBFile, "Store DB file")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the BumpKit server",
		Run: func(cmd *cobra.Command, args []string) {
			Server(config)
		},
	}

	configCmd := &cobra.Command{
		Use:   "showconf",
		Short: "Print the config state and exit",
		Run: func(cmd *cobra.Command, args []string) {
			o, _ := json.MarshalIndent(config, ">", " ")
			fmt.Println(string(o))
			os.Exit(0)
		},
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)

	// Execute the Cobra command
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
	}
}
