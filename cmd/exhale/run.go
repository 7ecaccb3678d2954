package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/host/v3"

	"github.com/pmarks-net/exhale/internal/blinker"
	"github.com/pmarks-net/exhale/internal/co2sampler"
	"github.com/pmarks-net/exhale/internal/config"
	"github.com/pmarks-net/exhale/internal/control"
	"github.com/pmarks-net/exhale/internal/discover"
	"github.com/pmarks-net/exhale/internal/ledfile"
	"github.com/pmarks-net/exhale/internal/sensor"
	"github.com/pmarks-net/exhale/internal/switchctl"
	"github.com/pmarks-net/exhale/internal/tracker"
	"github.com/pmarks-net/exhale/internal/wireless"
)

const defaultLEDPath = "/tmp/exhale.led"

func newRunCmd(log *logrus.Logger) *cobra.Command {
	var (
		zdevice    string
		scd30I2C   int
		co2Limit   int
		co2Diff    int
		manualSecs int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon: sample CO2, drive switches by hysteresis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.RunConfig{
				ZDevice:    zdevice,
				SCD30I2C:   scd30I2C,
				CO2Limit:   co2Limit,
				CO2Diff:    co2Diff,
				ManualSecs: time.Duration(manualSecs) * time.Second,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDaemon(cmd.Context(), log, cfg)
		},
	}

	cmd.Flags().StringVar(&zdevice, "zdevice", "", "serial device to the wireless controller (auto-discovered if omitted)")
	cmd.Flags().IntVar(&scd30I2C, "scd30_i2c", -1, "I2C bus index for the CO2 sensor (auto-discovered if omitted)")
	cmd.Flags().IntVar(&co2Limit, "co2_limit", 900, "ppm at which the fan turns on")
	cmd.Flags().IntVar(&co2Diff, "co2_diff", 50, "hysteresis band subtracted from co2_limit to find the turn-off point")
	cmd.Flags().IntVar(&manualSecs, "manual", 3600, "manual-override duration in seconds")

	return cmd
}

func runDaemon(ctx context.Context, log *logrus.Logger, cfg config.RunConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	device := cfg.ZDevice
	if device == "" {
		d, err := discover.AutoDevice()
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		device = d
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("run: periph host init: %w", err)
	}
	i2cBus, err := openConfiguredBus(cfg.SCD30I2C)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer i2cBus.Close()

	scd, err := sensor.Open(i2cBus)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	led, err := ledfile.Open(defaultLEDPath)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer led.Close()

	b := blinker.New(led, log.WithField("component", "blinker"))
	go func() {
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("blinker exited unexpectedly")
		}
	}()

	sampler := co2sampler.New(scd, b, log.WithField("component", "sampler"))
	go sampler.Run(ctx)

	mgr, err := wireless.OpenSerialManager(device, log.WithField("component", "wireless"))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer mgr.Destroy()

	timing := switchctl.Timing{}
	tr := tracker.New(mgr, cfg.ManualSecs, timing, log.WithField("component", "tracker"))
	tr.StartSwitchControllers(ctx)
	defer tr.Stop()

	if err := mgr.AddDriver(device); err != nil {
		return fmt.Errorf("run: add driver: %w", err)
	}
	defer mgr.RemoveDriver()

	if err := tr.WaitForNodes(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log.WithField("switch_count", tr.SwitchCount()).Info("node scan complete")

	loop := control.New(sampler, tr, cfg.CO2Limit, cfg.CO2Diff, log.WithField("component", "control"))
	loop.Run(ctx)
	return nil
}

func openConfiguredBus(index int) (i2c.BusCloser, error) {
	if index < 0 {
		return discover.AutoI2CBus()
	}
	return discover.OpenI2CBus(index)
}
