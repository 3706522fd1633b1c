package main

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
)

type cliConfig struct {
	mode        string
	phaserURI   string
	sdrURI      string
	discover    bool
	logLevel    string
	outPath     string
	gainCalPath string
	phaseCal    string

	signalFreq float64
	sampleRate float64
	rxLO       float64
	rxGain     float64
	rxSamples  int

	sweepStart float64
	sweepStop  float64
	sweepStep  float64

	sshHost     string
	sshUser     string
	sshPassword string
	sshKeyPath  string
}

type persistentConfig struct {
	Mode        string `json:"mode"`
	PhaserURI   string `json:"phaser_uri"`
	SDRURI      string `json:"sdr_uri"`
	LogLevel    string `json:"log_level"`
	OutPath     string `json:"out_path"`
	GainCalPath string `json:"gain_cal_path"`
	PhaseCal    string `json:"phase_cal_path"`

	SignalFreq float64 `json:"signal_freq"`
	SampleRate float64 `json:"sample_rate"`
	RxLO       float64 `json:"rx_lo"`
	RxGain     float64 `json:"rx_gain"`
	RxSamples  int     `json:"rx_samples"`

	SweepStart float64 `json:"sweep_start"`
	SweepStop  float64 `json:"sweep_stop"`
	SweepStep  float64 `json:"sweep_step"`

	SSHHost     string `json:"ssh_host"`
	SSHUser     string `json:"ssh_user"`
	SSHPassword string `json:"ssh_password"`
	SSHKeyPath  string `json:"ssh_key_path"`
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("phaser", flag.ContinueOnError)
	fs.StringVar(&cfg.mode, "mode", envString(lookup, "PHASER_MODE", defaults.Mode), "Operation mode (sweep|cal)")
	fs.StringVar(&cfg.phaserURI, "phaser-uri", envString(lookup, "PHASER_URI", defaults.PhaserURI), "IIO context URI of the phaser board")
	fs.StringVar(&cfg.sdrURI, "sdr-uri", envString(lookup, "PHASER_SDR_URI", defaults.SDRURI), "IIO context URI of the receiver SDR")
	fs.BoolVar(&cfg.discover, "discover", false, "Browse mDNS for IIO contexts and exit")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "PHASER_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.outPath, "out", envString(lookup, "PHASER_OUT", defaults.OutPath), "Sweep CSV output path (- for stdout)")
	fs.StringVar(&cfg.gainCalPath, "gain-cal", envString(lookup, "PHASER_GAIN_CAL", defaults.GainCalPath), "Gain calibration YAML path")
	fs.StringVar(&cfg.phaseCal, "phase-cal", envString(lookup, "PHASER_PHASE_CAL", defaults.PhaseCal), "Phase calibration YAML path")

	fs.Float64Var(&cfg.signalFreq, "signal-freq", envFloat(lookup, "PHASER_SIGNAL_FREQ", defaults.SignalFreq), "Free-space source frequency in Hz")
	fs.Float64Var(&cfg.sampleRate, "sample-rate", envFloat(lookup, "PHASER_SAMPLE_RATE", defaults.SampleRate), "Receiver sample rate in Hz")
	fs.Float64Var(&cfg.rxLO, "rx-lo", envFloat(lookup, "PHASER_RX_LO", defaults.RxLO), "Receiver LO frequency in Hz")
	fs.Float64Var(&cfg.rxGain, "rx-gain", envFloat(lookup, "PHASER_RX_GAIN", defaults.RxGain), "Receiver gain in dB (manual mode)")
	fs.IntVar(&cfg.rxSamples, "rx-samples", envInt(lookup, "PHASER_RX_SAMPLES", defaults.RxSamples), "Samples per capture")

	fs.Float64Var(&cfg.sweepStart, "sweep-start", envFloat(lookup, "PHASER_SWEEP_START", defaults.SweepStart), "Sweep start angle in degrees")
	fs.Float64Var(&cfg.sweepStop, "sweep-stop", envFloat(lookup, "PHASER_SWEEP_STOP", defaults.SweepStop), "Sweep stop angle in degrees")
	fs.Float64Var(&cfg.sweepStep, "sweep-step", envFloat(lookup, "PHASER_SWEEP_STEP", defaults.SweepStep), "Sweep step in degrees")

	fs.StringVar(&cfg.sshHost, "ssh-host", envString(lookup, "PHASER_SSH_HOST", defaults.SSHHost), "SSH host for sysfs write fallback (empty disables)")
	fs.StringVar(&cfg.sshUser, "ssh-user", envString(lookup, "PHASER_SSH_USER", defaults.SSHUser), "SSH user for sysfs fallback")
	fs.StringVar(&cfg.sshPassword, "ssh-password", envString(lookup, "PHASER_SSH_PASSWORD", defaults.SSHPassword), "SSH password for sysfs fallback")
	fs.StringVar(&cfg.sshKeyPath, "ssh-key", envString(lookup, "PHASER_SSH_KEY", defaults.SSHKeyPath), "SSH private key path for sysfs fallback")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return persistentConfig{
		Mode:        cfg.mode,
		PhaserURI:   cfg.phaserURI,
		SDRURI:      cfg.sdrURI,
		LogLevel:    cfg.logLevel,
		OutPath:     cfg.outPath,
		GainCalPath: cfg.gainCalPath,
		PhaseCal:    cfg.phaseCal,
		SignalFreq:  cfg.signalFreq,
		SampleRate:  cfg.sampleRate,
		RxLO:        cfg.rxLO,
		RxGain:      cfg.rxGain,
		RxSamples:   cfg.rxSamples,
		SweepStart:  cfg.sweepStart,
		SweepStop:   cfg.sweepStop,
		SweepStep:   cfg.sweepStep,
		SSHHost:     cfg.sshHost,
		SSHUser:     cfg.sshUser,
		SSHPassword: cfg.sshPassword,
		SSHKeyPath:  cfg.sshKeyPath,
	}
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	var cfg persistentConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		Mode:        "sweep",
		PhaserURI:   "ip:phaser.local",
		SDRURI:      "ip:192.168.2.1",
		LogLevel:    "info",
		OutPath:     "-",
		GainCalPath: "gain_cal.yaml",
		PhaseCal:    "phase_cal.yaml",
		SignalFreq:  10.525e9,
		SampleRate:  30e6,
		RxLO:        2.2e9,
		RxGain:      12,
		RxSamples:   1 << 10,
		SweepStart:  -80,
		SweepStop:   80,
		SweepStep:   2,
		SSHUser:     "root",
	}
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
