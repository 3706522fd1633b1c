package adi

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/cristina-suteu/pyadi-iio/internal/dsp"
	"github.com/cristina-suteu/pyadi-iio/internal/logging"
)

// CN0566 phased-array board constants.
const (
	// NumElements is the count of antenna elements on the board.
	NumElements = 8

	elementsPerBeamformer = 4

	// phaseStepDeg is the ADAR1000 phase shifter resolution.
	phaseStepDeg = 2.8125

	// DefaultElementSpacing is the element pitch in meters.
	DefaultElementSpacing = 0.014

	speedOfLight = 299792458.0

	// ADAR1000 gain codes run 0..127.
	maxGainCode = 127
)

// CN0566 beamformer and PLL device names fixed by the device tree.
const (
	cn0566Beam0Device = "adar1000_csb_1_1"
	cn0566Beam1Device = "adar1000_csb_1_2"
	cn0566PLLDevice   = "adf4159"
)

// ErrNoReceiver is returned by operations that need a capture path when the
// CN0566 was built without one.
var ErrNoReceiver = errors.New("adi: no receiver attached")

// CN0566 binds the phased-array development platform: eight antenna elements
// behind two four-channel ADAR1000 beamformers, an ADF4159 LO synthesizer,
// and optionally an AD9361 as the IF receiver.
type CN0566 struct {
	ctx   *Context
	beams [2]*Device
	pll   *Device
	sdr   *AD9361
	log   logging.Logger

	// ElementSpacing is the antenna pitch in meters.
	ElementSpacing float64

	gainCal  [NumElements]float64
	phaseCal [NumElements]float64
}

// NewCN0566 locates the beamformer and PLL devices. sdr may be nil when only
// the control plane is needed; Sweep then returns ErrNoReceiver.
func NewCN0566(ctx *Context, sdr *AD9361) (*CN0566, error) {
	beam0, err := ctx.FindDevice(cn0566Beam0Device)
	if err != nil {
		return nil, err
	}
	beam1, err := ctx.FindDevice(cn0566Beam1Device)
	if err != nil {
		return nil, err
	}
	pll, err := ctx.FindDevice(cn0566PLLDevice)
	if err != nil {
		return nil, err
	}

	dev := &CN0566{
		ctx:            ctx,
		beams:          [2]*Device{beam0, beam1},
		pll:            pll,
		sdr:            sdr,
		log:            logging.Default(),
		ElementSpacing: DefaultElementSpacing,
	}
	for i := range dev.gainCal {
		dev.gainCal[i] = 1.0
	}
	return dev, nil
}

// SetLogger replaces the board logger.
func (d *CN0566) SetLogger(log logging.Logger) {
	if log != nil {
		d.log = log
	}
}

func (d *CN0566) element(n int) (*Device, string, error) {
	if n < 0 || n >= NumElements {
		return nil, "", fmt.Errorf("adi: element %d out of range [0,%d)", n, NumElements)
	}
	dev := d.beams[n/elementsPerBeamformer]
	return dev, "voltage" + strconv.Itoa(n%elementsPerBeamformer), nil
}

// Configure brings the array to a known state: every element at full gain
// with calibration applied, a flat phase front, and the synthesizer powered.
func (d *CN0566) Configure() error {
	if err := d.SetPLLPowerdown(false); err != nil {
		return err
	}
	if err := d.SetAllGain(maxGainCode, true); err != nil {
		return err
	}
	return d.SetBeamPhaseDiff(0)
}

// SetChanGain programs one element's gain code [0,127]. With applyCal the
// code is scaled by the element's gain calibration factor first.
func (d *CN0566) SetChanGain(element int, code float64, applyCal bool) error {
	dev, ch, err := d.element(element)
	if err != nil {
		return err
	}
	if code < 0 || code > maxGainCode {
		return fmt.Errorf("adi: gain code %v out of range [0,%d]", code, maxGainCode)
	}
	if applyCal {
		code *= d.gainCal[element]
	}
	v := int64(math.Round(code))
	if v > maxGainCode {
		v = maxGainCode
	}
	return dev.setAttrInt64(ch, false, "hardwaregain", v)
}

// SetAllGain programs every element to the same gain code.
func (d *CN0566) SetAllGain(code float64, applyCal bool) error {
	for i := 0; i < NumElements; i++ {
		if err := d.SetChanGain(i, code, applyCal); err != nil {
			return err
		}
	}
	return nil
}

// SetChanPhase programs one element's phase shifter in degrees, quantized to
// the hardware step. With applyCal the element's phase calibration offset is
// added first.
func (d *CN0566) SetChanPhase(element int, deg float64, applyCal bool) error {
	dev, ch, err := d.element(element)
	if err != nil {
		return err
	}
	if applyCal {
		deg += d.phaseCal[element]
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	quantized := math.Round(deg/phaseStepDeg) * phaseStepDeg
	quantized = math.Mod(quantized, 360)
	return dev.setAttrFloat64(ch, false, "phase", quantized)
}

// SetBeamPhaseDiff applies a uniform phase progression across the array:
// element i gets i*deg plus its calibration offset. A linear front steers
// the beam off boresight.
func (d *CN0566) SetBeamPhaseDiff(deg float64) error {
	for i := 0; i < NumElements; i++ {
		if err := d.SetChanPhase(i, float64(i)*deg, true); err != nil {
			return err
		}
	}
	return nil
}

// PhaseDiffForAngle converts a steering angle off boresight to the
// per-element phase progression for a given signal frequency.
func (d *CN0566) PhaseDiffForAngle(angleDeg, signalFreqHz float64) float64 {
	wavelength := speedOfLight / signalFreqHz
	return 360 * d.ElementSpacing * math.Sin(angleDeg*math.Pi/180) / wavelength
}

// GainCal returns the per-element gain calibration factors.
func (d *CN0566) GainCal() []float64 { return append([]float64(nil), d.gainCal[:]...) }

// SetGainCal replaces the gain calibration factors.
func (d *CN0566) SetGainCal(cal []float64) error {
	if len(cal) != NumElements {
		return fmt.Errorf("%w: got %d factors for %d elements", ErrLengthMismatch, len(cal), NumElements)
	}
	copy(d.gainCal[:], cal)
	return nil
}

// PhaseCal returns the per-element phase calibration offsets in degrees.
func (d *CN0566) PhaseCal() []float64 { return append([]float64(nil), d.phaseCal[:]...) }

// SetPhaseCal replaces the phase calibration offsets.
func (d *CN0566) SetPhaseCal(cal []float64) error {
	if len(cal) != NumElements {
		return fmt.Errorf("%w: got %d offsets for %d elements", ErrLengthMismatch, len(cal), NumElements)
	}
	copy(d.phaseCal[:], cal)
	return nil
}

// SaveGainCal persists the gain calibration to a YAML file.
func (d *CN0566) SaveGainCal(path string) error {
	return saveCal(path, d.gainCal[:])
}

// LoadGainCal restores gain calibration from a YAML file. A missing file
// leaves the defaults in place and is not an error.
func (d *CN0566) LoadGainCal(path string) error {
	cal, err := loadCal(path)
	if err != nil {
		return err
	}
	if cal == nil {
		d.log.Info("gain calibration file missing, using defaults",
			logging.Field{Key: "path", Value: path})
		return nil
	}
	return d.SetGainCal(cal)
}

// SavePhaseCal persists the phase calibration to a YAML file.
func (d *CN0566) SavePhaseCal(path string) error {
	return saveCal(path, d.phaseCal[:])
}

// LoadPhaseCal restores phase calibration from a YAML file. A missing file
// leaves the defaults in place and is not an error.
func (d *CN0566) LoadPhaseCal(path string) error {
	cal, err := loadCal(path)
	if err != nil {
		return err
	}
	if cal == nil {
		d.log.Info("phase calibration file missing, using defaults",
			logging.Field{Key: "path", Value: path})
		return nil
	}
	return d.SetPhaseCal(cal)
}

type calFile struct {
	Values []float64 `yaml:"values"`
}

func saveCal(path string, values []float64) error {
	data, err := yaml.Marshal(calFile{Values: values})
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// loadCal returns nil values (not an error) when the file does not exist.
func loadCal(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration %s: %w", path, err)
	}
	var f calFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode calibration %s: %w", path, err)
	}
	return f.Values, nil
}

// Frequency reads the synthesizer output frequency in Hz.
func (d *CN0566) Frequency() (int64, error) {
	return d.pll.attrInt64("altvoltage0", true, "frequency")
}

// SetFrequency programs the synthesizer output frequency.
func (d *CN0566) SetFrequency(hz int64) error {
	return d.pll.setAttrInt64("altvoltage0", true, "frequency", hz)
}

// SetFreqDevStep sets the ramp frequency deviation step in Hz.
func (d *CN0566) SetFreqDevStep(hz int64) error {
	return d.pll.setAttrInt64("altvoltage0", true, "frequency_deviation_step", hz)
}

// SetFreqDevRange sets the total ramp deviation range in Hz.
func (d *CN0566) SetFreqDevRange(hz int64) error {
	return d.pll.setAttrInt64("altvoltage0", true, "frequency_deviation_range", hz)
}

// SetFreqDevTime sets the ramp duration in microseconds.
func (d *CN0566) SetFreqDevTime(us int64) error {
	return d.pll.setAttrInt64("altvoltage0", true, "frequency_deviation_time", us)
}

// SetRampMode selects the synthesizer ramp mode: "disabled",
// "continuous_sawtooth", "continuous_triangular", "single_sawtooth_burst" or
// "single_ramp_burst".
func (d *CN0566) SetRampMode(mode string) error {
	return d.pll.setAttrString("altvoltage0", true, "ramp_mode", mode)
}

// SetPLLPowerdown powers the synthesizer output down or up.
func (d *CN0566) SetPLLPowerdown(down bool) error {
	v := int64(0)
	if down {
		v = 1
	}
	return d.pll.setAttrInt64("altvoltage0", true, "powerdown", v)
}

// SweepPoint is one steering angle and the received peak power there.
type SweepPoint struct {
	AngleDeg float64
	GainDB   float64
}

// Sweep steers the beam from startDeg to stopDeg inclusive in stepDeg
// increments and records the received peak power at each angle. signalFreqHz
// is the free-space frequency used to convert angles to phase progressions.
func (d *CN0566) Sweep(signalFreqHz, startDeg, stopDeg, stepDeg float64) ([]SweepPoint, error) {
	if d.sdr == nil {
		return nil, ErrNoReceiver
	}
	if stepDeg <= 0 || stopDeg < startDeg {
		return nil, fmt.Errorf("adi: invalid sweep range [%v,%v] step %v", startDeg, stopDeg, stepDeg)
	}

	var points []SweepPoint
	for angle := startDeg; angle <= stopDeg+stepDeg/2; angle += stepDeg {
		if err := d.SetBeamPhaseDiff(d.PhaseDiffForAngle(angle, signalFreqHz)); err != nil {
			return nil, fmt.Errorf("steer to %.1f deg: %w", angle, err)
		}
		data, err := d.sdr.Rx().Rx()
		if err != nil {
			return nil, fmt.Errorf("capture at %.1f deg: %w", angle, err)
		}
		sum := combineChannels(data)
		_, peak := dsp.Peak(dsp.PowerSpectrumDB(sum))
		points = append(points, SweepPoint{AngleDeg: angle, GainDB: peak})
		d.log.Debug("sweep point",
			logging.Field{Key: "angle", Value: angle},
			logging.Field{Key: "gain_db", Value: peak})
	}
	return points, nil
}

// combineChannels sums the capture channels elementwise. The two Pluto
// channels carry the two array halves; their sum is the full-array response.
func combineChannels(data [][]complex64) []complex64 {
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
