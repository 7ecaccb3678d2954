// Command exhale drives an unattended CO2 controller: it samples a CO2
// sensor, applies hysteresis, and commands wireless-switch-controlled
// exhaust fans accordingly.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root := &cobra.Command{
		Use:   "exhale",
		Short: "Unattended CO2-driven exhaust fan controller",
	}
	var debug bool
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cobra.OnInitialize(func() {
		if debug {
			log.SetLevel(logrus.DebugLevel)
		}
	})

	root.AddCommand(newRunCmd(log))
	root.AddCommand(newCalibrateCmd(log))
	root.AddCommand(newResetCmd(log))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
