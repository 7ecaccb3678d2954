// Package sensor implements the Sensirion SCD30 I2C driver consumed by
// co2sampler.Sensor (spec.md §6's sensor contract).
package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

const scd30Addr = 0x61

const (
	cmdContinuousMeasurement = 0x0010
	cmdDataReady             = 0x0202
	cmdReadMeasurement       = 0x0300
	cmdSelfCalibration       = 0x5306
	cmdForcedRecalibration   = 0x5204
)

// SCD30 is a handle to a Sensirion SCD30 CO2 sensor over I2C.
type SCD30 struct {
	c conn.Conn

	selfCalibrationEnabled   bool
	forcedRecalibrationValue uint16
}

// Open starts continuous measurement at a 2-second interval and returns
// a handle to it.
func Open(bus i2c.Bus) (*SCD30, error) {
	d := &SCD30{c: &i2c.Dev{Bus: bus, Addr: scd30Addr}}
	if err := d.writeCommand(cmdContinuousMeasurement, 0); err != nil {
		return nil, fmt.Errorf("sensor: start continuous measurement: %w", err)
	}
	return d, nil
}

// DataAvailable reports whether a fresh measurement is ready to be
// read.
func (d *SCD30) DataAvailable() (bool, error) {
	words, err := d.readCommand(cmdDataReady, 1)
	if err != nil {
		return false, err
	}
	return words[0] == 1, nil
}

// ReadCO2 returns the latest CO2 concentration in ppm.
func (d *SCD30) ReadCO2() (float64, error) {
	words, err := d.readCommand(cmdReadMeasurement, 6)
	if err != nil {
		return 0, err
	}
	bits := uint32(words[0])<<16 | uint32(words[1])
	return float64(math.Float32frombits(bits)), nil
}

// SetSelfCalibrationEnabled toggles the sensor's automatic self
// calibration feature.
func (d *SCD30) SetSelfCalibrationEnabled(enabled bool) error {
	v := uint16(0)
	if enabled {
		v = 1
	}
	if err := d.writeCommand(cmdSelfCalibration, v); err != nil {
		return fmt.Errorf("sensor: set self calibration: %w", err)
	}
	d.selfCalibrationEnabled = enabled
	return nil
}

// SetForcedRecalibrationReference writes a known-good reference
// concentration, forcing a one-shot recalibration.
func (d *SCD30) SetForcedRecalibrationReference(ppm uint16) error {
	if err := d.writeCommand(cmdForcedRecalibration, ppm); err != nil {
		return fmt.Errorf("sensor: forced recalibration: %w", err)
	}
	d.forcedRecalibrationValue = ppm
	return nil
}

func (d *SCD30) writeCommand(cmd uint16, arg uint16) error {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint16(buf[0:2], cmd)
	binary.BigEndian.PutUint16(buf[2:4], arg)
	buf[4] = crc8(buf[2:4])
	return d.c.Tx(buf, nil)
}

func (d *SCD30) readCommand(cmd uint16, words int) ([]uint16, error) {
	cmdBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(cmdBuf, cmd)

	rx := make([]byte, words*3)
	if err := d.c.Tx(cmdBuf, rx); err != nil {
		return nil, fmt.Errorf("sensor: i2c transaction: %w", err)
	}

	out := make([]uint16, words)
	for i := 0; i < words; i++ {
		chunk := rx[i*3 : i*3+3]
		if crc8(chunk[:2]) != chunk[2] {
			return nil, errors.New("sensor: CRC mismatch reading response")
		}
		out[i] = binary.BigEndian.Uint16(chunk[:2])
	}
	return out, nil
}

// crc8 implements the SCD30 checksum: polynomial 0x31, init 0xFF.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// measurementSettleTime is how long the sensor needs after continuous
// measurement starts before DataAvailable first reports true.
const measurementSettleTime = 2 * time.Second
