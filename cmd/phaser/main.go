// Command phaser drives a CN0566 phased-array board: it steers the beam
// across a range of angles and records the received power per angle, or runs
// a per-element gain calibration against a fixed source.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/cristina-suteu/pyadi-iio/adi"
	"github.com/cristina-suteu/pyadi-iio/internal/dsp"
	"github.com/cristina-suteu/pyadi-iio/internal/logging"
	"github.com/cristina-suteu/pyadi-iio/internal/mdns"
	"github.com/cristina-suteu/pyadi-iio/internal/sysfs"
)

func main() {
	const configPath = "phaser.json"

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		log.Fatalf("save config: %v", err)
	}

	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		log.Fatalf("parse log level: %v", err)
	}
	logger := logging.New(level, os.Stderr)
	logging.SetDefault(logger)

	if cfg.discover {
		if err := runDiscover(logger); err != nil {
			log.Fatalf("discover: %v", err)
		}
		return
	}

	phaser, sdr, cleanup, err := connect(cfg, logger)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer cleanup()

	switch cfg.mode {
	case "sweep":
		err = runSweep(cfg, phaser, logger)
	case "cal":
		err = runGainCal(cfg, phaser, sdr, logger)
	default:
		err = fmt.Errorf("unknown mode %q (want sweep or cal)", cfg.mode)
	}
	if err != nil {
		log.Fatalf("%s: %v", cfg.mode, err)
	}
}

func runDiscover(logger logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hosts, err := mdns.Discover(ctx)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		logger.Warn("no IIO contexts found")
		return nil
	}
	for _, h := range hosts {
		fmt.Printf("%s\t%s\n", h.URI(), h.Instance)
	}
	return nil
}

// connect brings up both contexts and the hardware in a known state.
func connect(cfg cliConfig, logger logging.Logger) (*adi.CN0566, *adi.AD9361, func(), error) {
	sdrCtx, err := adi.Connect(cfg.sdrURI)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect sdr at %s: %w", cfg.sdrURI, err)
	}
	sdrCtx.SetLogger(logger)

	phaserCtx, err := adi.Connect(cfg.phaserURI)
	if err != nil {
		sdrCtx.Close()
		return nil, nil, nil, fmt.Errorf("connect phaser at %s: %w", cfg.phaserURI, err)
	}
	phaserCtx.SetLogger(logger)

	cleanup := func() {
		phaserCtx.Close()
		sdrCtx.Close()
	}

	if cfg.sshHost != "" {
		writer, err := sysfs.NewWriter(sysfs.Config{
			Host:     cfg.sshHost,
			User:     cfg.sshUser,
			Password: cfg.sshPassword,
			KeyPath:  cfg.sshKeyPath,
		})
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		phaserCtx.SetWriteFallback(writer)
		logger.Info("sysfs write fallback enabled", logging.Field{Key: "host", Value: cfg.sshHost})
	}

	sdr, err := adi.NewAD9361(sdrCtx)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := setupSDR(cfg, sdr); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("setup sdr: %w", err)
	}

	phaser, err := adi.NewCN0566(phaserCtx, sdr)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	phaser.SetLogger(logger)
	if err := phaser.LoadGainCal(cfg.gainCalPath); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := phaser.LoadPhaseCal(cfg.phaseCal); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := setupPLL(cfg, phaser); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("setup pll: %w", err)
	}
	if err := phaser.Configure(); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("configure phaser: %w", err)
	}
	return phaser, sdr, cleanup, nil
}

func setupSDR(cfg cliConfig, sdr *adi.AD9361) error {
	if err := sdr.SetSampleRate(int64(cfg.sampleRate)); err != nil {
		return err
	}
	if err := sdr.SetRxLO(int64(cfg.rxLO)); err != nil {
		return err
	}
	for ch := 0; ch < 2; ch++ {
		if err := sdr.SetGainControlMode(ch, adi.GainModeManual); err != nil {
			return err
		}
		if err := sdr.SetRxHardwareGain(ch, cfg.rxGain); err != nil {
			return err
		}
	}
	if err := sdr.Rx().SetBufferSize(cfg.rxSamples); err != nil {
		return err
	}
	return sdr.Rx().SetEnabledChannels([]int{0})
}

// setupPLL tunes the LO synthesizer so the source mixes down into the
// receiver passband. The board's LO chain multiplies the synthesizer output
// by four.
func setupPLL(cfg cliConfig, phaser *adi.CN0566) error {
	lo := int64((cfg.signalFreq + cfg.rxLO) / 4)
	if err := phaser.SetFrequency(lo); err != nil {
		return err
	}
	return phaser.SetRampMode("disabled")
}

func runSweep(cfg cliConfig, phaser *adi.CN0566, logger logging.Logger) error {
	points, err := phaser.Sweep(cfg.signalFreq, cfg.sweepStart, cfg.sweepStop, cfg.sweepStep)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if cfg.outPath != "" && cfg.outPath != "-" {
		f, err := os.Create(cfg.outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"angle_deg", "gain_db"}); err != nil {
		return err
	}
	for _, p := range points {
		rec := []string{
			strconv.FormatFloat(p.AngleDeg, 'f', 2, 64),
			strconv.FormatFloat(p.GainDB, 'f', 3, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	logger.Info("sweep complete", logging.Field{Key: "points", Value: len(points)})
	return nil
}

// runGainCal measures each element alone against the fixed source and scales
// all elements down to the weakest one, flattening the array response.
func runGainCal(cfg cliConfig, phaser *adi.CN0566, sdr *adi.AD9361, logger logging.Logger) error {
	if err := phaser.SetBeamPhaseDiff(0); err != nil {
		return err
	}

	peaks := make([]float64, adi.NumElements)
	for i := 0; i < adi.NumElements; i++ {
		if err := phaser.SetAllGain(0, false); err != nil {
			return err
		}
		if err := phaser.SetChanGain(i, 127, false); err != nil {
			return err
		}
		data, err := sdr.Rx().Rx()
		if err != nil {
			return fmt.Errorf("capture element %d: %w", i, err)
		}
		_, peakDB := dsp.Peak(dsp.PowerSpectrumDB(sumChannels(data)))
		peaks[i] = math.Pow(10, peakDB/20)
		logger.Debug("element measured",
			logging.Field{Key: "element", Value: i},
			logging.Field{Key: "peak_db", Value: peakDB})
	}

	weakest := peaks[0]
	for _, p := range peaks[1:] {
		if p < weakest {
			weakest = p
		}
	}
	if weakest <= 0 {
		return fmt.Errorf("no signal received during calibration")
	}

	cal := make([]float64, adi.NumElements)
	for i, p := range peaks {
		cal[i] = weakest / p
	}
	if err := phaser.SetGainCal(cal); err != nil {
		return err
	}
	if err := phaser.SaveGainCal(cfg.gainCalPath); err != nil {
		return err
	}
	logger.Info("gain calibration saved",
		logging.Field{Key: "path", Value: cfg.gainCalPath})
	return nil
}

func sumChannels(data [][]complex64) []complex64 {
	if len(data) == 0 {
		return nil
	}
	sum := append([]complex64(nil), data[0]...)
	for _, ch := range data[1:] {
		for i := range sum {
			if i < len(ch) {
				sum[i] += ch[i]
			}
		}
	}
	return sum
}
