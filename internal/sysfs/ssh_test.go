package sysfs

import (
	"strings"
	"testing"
)

func TestNewWriterDefaults(t *testing.T) {
	if _, err := NewWriter(Config{}); err == nil {
		t.Fatal("expected error without host")
	}

	w, err := NewWriter(Config{Host: "phaser.local"})
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if w.cfg.User != "root" || w.cfg.Port != 22 || w.cfg.SysfsRoot != defaultSysfsRoot {
		t.Fatalf("unexpected defaults: %+v", w.cfg)
	}
}

func TestAttributeFile(t *testing.T) {
	cases := []struct {
		output  bool
		channel string
		attr    string
		want    string
	}{
		{false, "voltage0_i", "channel_nco_frequency", "in_voltage0_i_channel_nco_frequency"},
		{true, "voltage0_i", "main_nco_frequency", "out_voltage0_i_main_nco_frequency"},
		{true, "altvoltage0", "frequency", "out_altvoltage0_frequency"},
		{false, "", "loopback_mode", "loopback_mode"},
	}
	for _, tc := range cases {
		if got := attributeFile(tc.output, tc.channel, tc.attr); got != tc.want {
			t.Errorf("attributeFile(%v, %q, %q) = %q, want %q", tc.output, tc.channel, tc.attr, got, tc.want)
		}
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("plain"); got != "'plain'" {
		t.Errorf("unexpected quoting %q", got)
	}
	got := shellQuote("it's")
	if !strings.HasPrefix(got, "'it'") || !strings.Contains(got, `\'`) {
		t.Errorf("embedded quote not escaped: %q", got)
	}
}
