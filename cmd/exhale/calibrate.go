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
	"periph.io/x/host/v3"

	"github.com/pmarks-net/exhale/internal/blinker"
	"github.com/pmarks-net/exhale/internal/config"
	"github.com/pmarks-net/exhale/internal/discover"
	"github.com/pmarks-net/exhale/internal/ledfile"
	"github.com/pmarks-net/exhale/internal/sensor"
)

const (
	calibrationWarmup = 120 * time.Second
	warmupBlinkHz     = 0.5
	doneBlinkHz       = 5.0
)

func newCalibrateCmd(log *logrus.Logger) *cobra.Command {
	var (
		zdevice  string
		scd30I2C int
		scd30PPM int
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Stream CO2 readings and optionally force a recalibration reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CalibrateConfig{ZDevice: zdevice, SCD30I2C: scd30I2C, SCD30PPM: scd30PPM}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runCalibrate(cmd.Context(), log, cfg)
		},
	}

	cmd.Flags().StringVar(&zdevice, "zdevice", "", "serial device to the wireless controller (unused by calibrate; accepted for symmetry)")
	cmd.Flags().IntVar(&scd30I2C, "scd30_i2c", -1, "I2C bus index for the CO2 sensor (auto-discovered if omitted)")
	cmd.Flags().IntVar(&scd30PPM, "scd30_ppm", 0, "known-good reference ppm; if set, forces recalibration after a 120s warm-up")

	return cmd
}

func runCalibrate(ctx context.Context, log *logrus.Logger, cfg config.CalibrateConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("calibrate: periph host init: %w", err)
	}
	i2cBus, err := openConfiguredBus(cfg.SCD30I2C)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	defer i2cBus.Close()

	scd, err := sensor.Open(i2cBus)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	led, err := ledfile.Open(defaultLEDPath)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	defer led.Close()

	b := blinker.New(led, log.WithField("component", "blinker"))
	go func() {
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("blinker exited unexpectedly")
		}
	}()

	dryRun := cfg.SCD30PPM == 0
	b.BlinkHz(warmupBlinkHz)

	deadline := time.Now().Add(calibrationWarmup)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil
		}
		available, err := scd.DataAvailable()
		if err != nil {
			log.WithError(err).Warn("calibrate: sensor read failed")
			time.Sleep(time.Second)
			continue
		}
		if !available {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		ppm, err := scd.ReadCO2()
		if err != nil {
			log.WithError(err).Warn("calibrate: sensor read failed")
			continue
		}
		log.WithField("co2_ppm", ppm).Info("calibrate: reading")
	}

	if dryRun {
		log.Info("calibrate: dry run complete, no reference supplied")
		return nil
	}

	if err := scd.SetSelfCalibrationEnabled(false); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	if err := scd.SetForcedRecalibrationReference(uint16(cfg.SCD30PPM)); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	b.BlinkHz(doneBlinkHz)
	log.WithField("reference_ppm", cfg.SCD30PPM).Info("calibrate: forced recalibration applied")

	<-ctx.Done()
	return nil
}
