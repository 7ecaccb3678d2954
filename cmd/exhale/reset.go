package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pmarks-net/exhale/internal/config"
	"github.com/pmarks-net/exhale/internal/discover"
	"github.com/pmarks-net/exhale/internal/switchctl"
	"github.com/pmarks-net/exhale/internal/tracker"
	"github.com/pmarks-net/exhale/internal/wireless"
)

func newResetCmd(log *logrus.Logger) *cobra.Command {
	var (
		zdevice  string
		switches int
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Factory-reset the wireless controller and induct new switches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.ResetConfig{ZDevice: zdevice, Switches: switches}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runReset(cmd.Context(), log, cfg)
		},
	}

	cmd.Flags().StringVar(&zdevice, "zdevice", "", "serial device to the wireless controller (auto-discovered if omitted)")
	cmd.Flags().IntVar(&switches, "switches", 1, "number of binary switches to induct, one at a time")

	return cmd
}

func runReset(ctx context.Context, log *logrus.Logger, cfg config.ResetConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	device := cfg.ZDevice
	if device == "" {
		d, err := discover.AutoDevice()
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		device = d
	}

	mgr, err := wireless.OpenSerialManager(device, log.WithField("component", "wireless"))
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	defer mgr.Destroy()

	tr := tracker.New(mgr, 0, switchctl.Timing{}, log.WithField("component", "tracker"))

	if err := mgr.AddDriver(device); err != nil {
		return fmt.Errorf("reset: add driver: %w", err)
	}
	if err := tr.WaitForNodes(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	homeID, ok := tr.HomeID()
	if !ok {
		return fmt.Errorf("reset: no home_id after node scan")
	}
	if err := mgr.ResetController(homeID); err != nil {
		return fmt.Errorf("reset: factory reset: %w", err)
	}
	if !tr.WaitForDriverRemoved(ctx) {
		return fmt.Errorf("reset: timed out waiting for driver removal after factory reset")
	}
	if err := tr.WaitForNodes(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	homeID, ok = tr.HomeID()
	if !ok {
		return fmt.Errorf("reset: no home_id after factory reset")
	}
	log.Info("reset: factory reset complete")

	reader := bufio.NewReader(os.Stdin)
	for i := 0; i < cfg.Switches; i++ {
		if err := mgr.AddNode(homeID, false); err != nil {
			return fmt.Errorf("reset: add node: %w", err)
		}
		if !tr.WaitForControllerState(ctx, "Waiting") {
			return fmt.Errorf("reset: timed out waiting for controller to enter pairing mode for switch %d", i+1)
		}
		fmt.Printf("Press Enter, then trigger induction on switch %d of %d...\n", i+1, cfg.Switches)
		if _, err := reader.ReadString('\n'); err != nil {
			return fmt.Errorf("reset: reading operator prompt: %w", err)
		}
		switchID, ok := tr.WaitForSwitchAdded(ctx)
		if !ok {
			return fmt.Errorf("reset: timed out waiting for switch %d to be added", i+1)
		}
		if !tr.WaitForControllerState(ctx, "Completed") {
			return fmt.Errorf("reset: timed out waiting for pairing to complete for switch %d", i+1)
		}
		if err := mgr.SetValue(switchID, false); err != nil {
			log.WithError(err).Warn("reset: failed to acknowledge induction with off command")
		}
		log.WithField("switch_id", switchID).Info("reset: inducted switch")
	}

	return nil
}
