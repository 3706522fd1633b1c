package adi

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cristina-suteu/pyadi-iio/iiod"
)

const phaserContextXML = `<?xml version="1.0" encoding="utf-8"?>
<context name="network" version-major="0" version-minor="25" description="phaser">
  <device id="iio:device0" name="adar1000_csb_1_1">
    <channel id="voltage0" type="input">
      <attribute name="hardwaregain" filename="in_voltage0_hardwaregain"/>
      <attribute name="phase" filename="in_voltage0_phase"/>
    </channel>
    <channel id="voltage1" type="input">
      <attribute name="hardwaregain" filename="in_voltage1_hardwaregain"/>
      <attribute name="phase" filename="in_voltage1_phase"/>
    </channel>
    <channel id="voltage2" type="input">
      <attribute name="hardwaregain" filename="in_voltage2_hardwaregain"/>
      <attribute name="phase" filename="in_voltage2_phase"/>
    </channel>
    <channel id="voltage3" type="input">
      <attribute name="hardwaregain" filename="in_voltage3_hardwaregain"/>
      <attribute name="phase" filename="in_voltage3_phase"/>
    </channel>
  </device>
  <device id="iio:device1" name="adar1000_csb_1_2">
    <channel id="voltage0" type="input">
      <attribute name="hardwaregain" filename="in_voltage0_hardwaregain"/>
      <attribute name="phase" filename="in_voltage0_phase"/>
    </channel>
    <channel id="voltage1" type="input">
      <attribute name="hardwaregain" filename="in_voltage1_hardwaregain"/>
      <attribute name="phase" filename="in_voltage1_phase"/>
    </channel>
    <channel id="voltage2" type="input">
      <attribute name="hardwaregain" filename="in_voltage2_hardwaregain"/>
      <attribute name="phase" filename="in_voltage2_phase"/>
    </channel>
    <channel id="voltage3" type="input">
      <attribute name="hardwaregain" filename="in_voltage3_hardwaregain"/>
      <attribute name="phase" filename="in_voltage3_phase"/>
    </channel>
  </device>
  <device id="iio:device2" name="adf4159">
    <channel id="altvoltage0" type="output">
      <attribute name="frequency" filename="out_altvoltage0_frequency"/>
      <attribute name="ramp_mode" filename="out_altvoltage0_ramp_mode"/>
      <attribute name="powerdown" filename="out_altvoltage0_powerdown"/>
    </channel>
  </device>
  <device id="iio:device3" name="ad9361-phy">
    <channel id="voltage0" type="input">
      <attribute name="sampling_frequency" filename="in_voltage_sampling_frequency"/>
    </channel>
    <channel id="altvoltage0" name="RX_LO" type="output">
      <attribute name="frequency" filename="out_altvoltage0_RX_LO_frequency"/>
    </channel>
  </device>
  <device id="iio:device4" name="cf-ad9361-lpc">
    <channel id="voltage0" type="input">
      <scan-element index="0" format="le:S12/16&gt;&gt;0"/>
    </channel>
    <channel id="voltage1" type="input">
      <scan-element index="1" format="le:S12/16&gt;&gt;0"/>
    </channel>
  </device>
  <device id="iio:device5" name="cf-ad9361-dds-core-lpc">
    <channel id="altvoltage0" name="TX1_I_F1" type="output">
      <attribute name="raw" filename="out_altvoltage0_TX1_I_F1_raw"/>
    </channel>
  </device>
</context>`

func newMockCN0566(t *testing.T, withSDR bool, ops []mockOp) (*CN0566, chan error) {
	t.Helper()

	all := append([]mockOp{{cmd: "PRINT", payload: phaserContextXML}}, ops...)
	addr, serverErr := startMockServer(t, all)

	client, err := iiod.Dial(addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx, err := NewContext(client)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}

	var sdr *AD9361
	if withSDR {
		if sdr, err = NewAD9361(ctx); err != nil {
			t.Fatalf("NewAD9361 failed: %v", err)
		}
	}
	dev, err := NewCN0566(ctx, sdr)
	if err != nil {
		t.Fatalf("NewCN0566 failed: %v", err)
	}
	return dev, serverErr
}

func TestCN0566ElementMapping(t *testing.T) {
	dev, serverErr := newMockCN0566(t, false, []mockOp{
		{cmd: "WRITE_ATTR adar1000_csb_1_1 INPUT voltage2 hardwaregain 100"},
		{cmd: "WRITE_ATTR adar1000_csb_1_2 INPUT voltage1 hardwaregain 64"},
	})

	// Element 2 lands on the first chip, element 5 on the second.
	if err := dev.SetChanGain(2, 100, false); err != nil {
		t.Fatalf("SetChanGain failed: %v", err)
	}
	if err := dev.SetGainCal([]float64{1, 1, 1, 1, 1, 0.5, 1, 1}); err != nil {
		t.Fatalf("SetGainCal failed: %v", err)
	}
	if err := dev.SetChanGain(5, 127, true); err != nil {
		t.Fatalf("calibrated SetChanGain failed: %v", err)
	}

	if err := dev.SetChanGain(8, 10, false); err == nil {
		t.Fatal("element 8 must be out of range")
	}
	if err := dev.SetChanGain(0, 200, false); err == nil {
		t.Fatal("gain code above 127 must fail")
	}

	checkServer(t, serverErr)
}

func TestCN0566PhaseQuantization(t *testing.T) {
	dev, serverErr := newMockCN0566(t, false, []mockOp{
		{cmd: "WRITE_ATTR adar1000_csb_1_1 INPUT voltage0 phase 47.8125"},
		{cmd: "WRITE_ATTR adar1000_csb_1_1 INPUT voltage1 phase 354.375"},
	})

	// 47 deg rounds to 17 steps of 2.8125.
	if err := dev.SetChanPhase(0, 47, false); err != nil {
		t.Fatalf("SetChanPhase failed: %v", err)
	}
	// Negative angles wrap into [0,360).
	if err := dev.SetChanPhase(1, -5, false); err != nil {
		t.Fatalf("negative SetChanPhase failed: %v", err)
	}

	checkServer(t, serverErr)
}

func TestCN0566BeamPhaseDiff(t *testing.T) {
	var ops []mockOp
	// 30 deg progression: element i at i*30, quantized to the 2.8125 step.
	wantPhases := []string{"0", "30.9375", "59.0625", "90", "120.9375", "149.0625", "180", "210.9375"}
	for i, ph := range wantPhases {
		devName := cn0566Beam0Device
		if i >= elementsPerBeamformer {
			devName = cn0566Beam1Device
		}
		ops = append(ops, mockOp{
			cmd: "WRITE_ATTR " + devName + " INPUT voltage" +
				string(rune('0'+i%elementsPerBeamformer)) + " phase " + ph,
		})
	}

	dev, serverErr := newMockCN0566(t, false, ops)
	if err := dev.SetBeamPhaseDiff(30); err != nil {
		t.Fatalf("SetBeamPhaseDiff failed: %v", err)
	}
	checkServer(t, serverErr)
}

func TestCN0566PhaseDiffForAngle(t *testing.T) {
	dev, serverErr := newMockCN0566(t, false, nil)

	if got := dev.PhaseDiffForAngle(0, 10.25e9); got != 0 {
		t.Fatalf("boresight phase diff = %v, want 0", got)
	}
	// d=14mm at 10.25 GHz, 30 deg: 360*d*sin(30)/lambda.
	lambda := speedOfLight / 10.25e9
	want := 360 * 0.014 * 0.5 / lambda
	if got := dev.PhaseDiffForAngle(30, 10.25e9); math.Abs(got-want) > 1e-9 {
		t.Fatalf("phase diff = %v, want %v", got, want)
	}

	checkServer(t, serverErr)
}

func TestCN0566Calibration(t *testing.T) {
	dev, serverErr := newMockCN0566(t, false, nil)
	dir := t.TempDir()

	gain := []float64{1, 0.9, 0.8, 1, 1, 0.95, 1, 0.7}
	phase := []float64{0, 2.5, -3, 0, 1, 0, -1.5, 0}
	if err := dev.SetGainCal(gain); err != nil {
		t.Fatalf("SetGainCal failed: %v", err)
	}
	if err := dev.SetPhaseCal(phase); err != nil {
		t.Fatalf("SetPhaseCal failed: %v", err)
	}

	gainPath := filepath.Join(dir, "gain_cal.yaml")
	phasePath := filepath.Join(dir, "phase_cal.yaml")
	if err := dev.SaveGainCal(gainPath); err != nil {
		t.Fatalf("SaveGainCal failed: %v", err)
	}
	if err := dev.SavePhaseCal(phasePath); err != nil {
		t.Fatalf("SavePhaseCal failed: %v", err)
	}

	// Reset, then restore from disk.
	if err := dev.SetGainCal(make([]float64, NumElements)); err != nil {
		t.Fatal(err)
	}
	if err := dev.LoadGainCal(gainPath); err != nil {
		t.Fatalf("LoadGainCal failed: %v", err)
	}
	if got := dev.GainCal(); !reflect.DeepEqual(got, gain) {
		t.Fatalf("gain cal = %v, want %v", got, gain)
	}
	if err := dev.LoadPhaseCal(phasePath); err != nil {
		t.Fatalf("LoadPhaseCal failed: %v", err)
	}
	if got := dev.PhaseCal(); !reflect.DeepEqual(got, phase) {
		t.Fatalf("phase cal = %v, want %v", got, phase)
	}

	// A missing file keeps whatever is loaded and reports no error.
	if err := dev.LoadGainCal(filepath.Join(dir, "absent.yaml")); err != nil {
		t.Fatalf("missing cal file must not error: %v", err)
	}
	if got := dev.GainCal(); !reflect.DeepEqual(got, gain) {
		t.Fatalf("missing file must not clobber cal: %v", got)
	}

	if err := dev.SetGainCal([]float64{1, 2}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("short cal: got %v, want ErrLengthMismatch", err)
	}

	checkServer(t, serverErr)
}

func TestCN0566PLL(t *testing.T) {
	dev, serverErr := newMockCN0566(t, false, []mockOp{
		{cmd: "WRITE_ATTR adf4159 OUTPUT altvoltage0 powerdown 0"},
		{cmd: "WRITE_ATTR adf4159 OUTPUT altvoltage0 frequency 12100000000"},
		{cmd: "READ_ATTR adf4159 OUTPUT altvoltage0 frequency", payload: "12100000000"},
		{cmd: "WRITE_ATTR adf4159 OUTPUT altvoltage0 ramp_mode disabled"},
	})

	if err := dev.SetPLLPowerdown(false); err != nil {
		t.Fatalf("SetPLLPowerdown failed: %v", err)
	}
	if err := dev.SetFrequency(12100000000); err != nil {
		t.Fatalf("SetFrequency failed: %v", err)
	}
	if f, err := dev.Frequency(); err != nil || f != 12100000000 {
		t.Fatalf("Frequency = %d, %v", f, err)
	}
	if err := dev.SetRampMode("disabled"); err != nil {
		t.Fatalf("SetRampMode failed: %v", err)
	}

	checkServer(t, serverErr)
}

func TestCN0566Sweep(t *testing.T) {
	raw := iiod.FormatInt16Samples([]int16{
		8192, 0, 8192, 0,
		0, 8192, 0, 8192,
		-8192, 0, -8192, 0,
		0, -8192, 0, -8192,
	})

	var ops []mockOp
	for i := 0; i < NumElements; i++ {
		devName := cn0566Beam0Device
		if i >= elementsPerBeamformer {
			devName = cn0566Beam1Device
		}
		ops = append(ops, mockOp{
			cmd: "WRITE_ATTR " + devName + " INPUT voltage" +
				string(rune('0'+i%elementsPerBeamformer)) + " phase 0",
		})
	}
	ops = append(ops,
		mockOp{cmd: "WRITE_ATTR cf-ad9361-lpc INPUT voltage0 en 1"},
		mockOp{cmd: "WRITE_ATTR cf-ad9361-lpc INPUT voltage1 en 1"},
		mockOp{cmd: "OPEN cf-ad9361-lpc 4"},
		mockOp{cmd: "READBUF cf-ad9361-lpc 4", binary: raw},
	)

	dev, serverErr := newMockCN0566(t, true, ops)
	if err := dev.sdr.Rx().SetBufferSize(4); err != nil {
		t.Fatal(err)
	}

	points, err := dev.Sweep(10.25e9, 0, 0, 1)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(points) != 1 || points[0].AngleDeg != 0 {
		t.Fatalf("unexpected points %v", points)
	}
	if math.IsInf(points[0].GainDB, 1) || math.IsNaN(points[0].GainDB) {
		t.Fatalf("unexpected gain %v", points[0].GainDB)
	}

	checkServer(t, serverErr)
}

func TestCN0566SweepWithoutReceiver(t *testing.T) {
	dev, serverErr := newMockCN0566(t, false, nil)
	if _, err := dev.Sweep(10.25e9, -90, 90, 1); !errors.Is(err, ErrNoReceiver) {
		t.Fatalf("got %v, want ErrNoReceiver", err)
	}
	if _, err := dev.Sweep(10.25e9, 90, -90, 1); !errors.Is(err, ErrNoReceiver) {
		t.Fatalf("got %v, want ErrNoReceiver", err)
	}
	checkServer(t, serverErr)
}
