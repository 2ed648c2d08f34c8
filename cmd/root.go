package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute builds the command tree and runs it
func Execute() error {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "hotspot-node",
		Short:        "hotspot-node elects the local hotspot among nearby peers and drives the climate actuators",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", ".", "Config file, or directory searched for config.yaml")
	flags.BoolP("verbose", "v", false, "Verbose mode")
	flags.String("ident", "", "Node identity (defaults to one derived from the MAC address)")
	flags.String("broker", "", "MQTT broker URL")
	flags.Float64("lat", 0, "Node latitude")
	flags.Float64("lon", 0, "Node longitude")
	flags.String("http-addr", "", "Listen address of the status endpoints")

	// Flags only override the configuration when given explicitly.
	v.BindPFlag("node.ident", flags.Lookup("ident"))
	v.BindPFlag("mqtt.broker", flags.Lookup("broker"))
	v.BindPFlag("node.lat", flags.Lookup("lat"))
	v.BindPFlag("node.lon", flags.Lookup("lon"))
	v.BindPFlag("http.addr", flags.Lookup("http-addr"))

	rootCmd.AddCommand(NewRunCommand(v))
	rootCmd.AddCommand(NewConfigCommand(v))
	rootCmd.AddCommand(NewVersionCommand())
	return rootCmd.Execute()
}
