package adi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AD9361 device names fixed by the kernel driver.
const (
	ad9361PhyDevice = "ad9361-phy"
	ad9361RxDevice  = "cf-ad9361-lpc"
	ad9361DDSDevice = "cf-ad9361-dds-core-lpc"
)

// GainControlMode values accepted by the AD9361 AGC.
const (
	GainModeManual     = "manual"
	GainModeSlowAttack = "slow_attack"
	GainModeFastAttack = "fast_attack"
	GainModeHybrid     = "hybrid"
)

// AD9361 binds an AD9361 transceiver (e.g. a PlutoSDR). The phy device
// carries the tuning attributes; capture goes through the LPC core and tone
// generation through the DDS core.
type AD9361 struct {
	ctx *Context
	phy *Device
	dds *Device

	rx *RxStreamer
}

// NewAD9361 locates the transceiver devices in the context.
func NewAD9361(ctx *Context) (*AD9361, error) {
	phy, err := ctx.FindDevice(ad9361PhyDevice)
	if err != nil {
		return nil, err
	}
	rxDev, err := ctx.FindDevice(ad9361RxDevice)
	if err != nil {
		return nil, err
	}
	dds, err := ctx.FindDevice(ad9361DDSDevice)
	if err != nil {
		return nil, err
	}

	var scan []string
	for _, ch := range rxDev.Channels() {
		if ch.ScanElement() && !ch.Output() {
			scan = append(scan, ch.ID())
		}
	}
	scan, err = sortIndexedChannels(scan, dataChannelPrefix)
	if err != nil {
		return nil, fmt.Errorf("sort rx channels: %w", err)
	}

	dev := &AD9361{ctx: ctx, phy: phy, dds: dds}
	dev.rx = newRxStreamer(rxDev, newChannelList(scan))
	return dev, nil
}

// sortIndexedChannels orders channel ids by the numeric suffix after prefix.
// AD9361 capture channels pair plain voltage<2k>/voltage<2k+1> ids as I/Q.
func sortIndexedChannels(names []string, prefix string) ([]string, error) {
	out := append([]string(nil), names...)
	var sortErr error
	sort.SliceStable(out, func(a, b int) bool {
		ia, errA := strconv.Atoi(strings.TrimPrefix(out[a], prefix))
		ib, errB := strconv.Atoi(strings.TrimPrefix(out[b], prefix))
		if errA != nil && sortErr == nil {
			sortErr = fmt.Errorf("channel %q has no numeric index: %w", out[a], errA)
		}
		if errB != nil && sortErr == nil {
			sortErr = fmt.Errorf("channel %q has no numeric index: %w", out[b], errB)
		}
		return ia < ib
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

// Rx returns the capture streamer.
func (d *AD9361) Rx() *RxStreamer { return d.rx }

// SampleRate reads the baseband sample rate in Hz.
func (d *AD9361) SampleRate() (int64, error) {
	return d.phy.attrInt64("voltage0", false, "sampling_frequency")
}

// SetSampleRate sets the baseband sample rate.
func (d *AD9361) SetSampleRate(hz int64) error {
	return d.phy.setAttrInt64("voltage0", false, "sampling_frequency", hz)
}

// RxLO reads the receive local oscillator frequency in Hz.
func (d *AD9361) RxLO() (int64, error) {
	return d.phy.attrInt64("altvoltage0", true, "frequency")
}

// SetRxLO tunes the receive local oscillator.
func (d *AD9361) SetRxLO(hz int64) error {
	return d.phy.setAttrInt64("altvoltage0", true, "frequency", hz)
}

// TxLO reads the transmit local oscillator frequency in Hz.
func (d *AD9361) TxLO() (int64, error) {
	return d.phy.attrInt64("altvoltage1", true, "frequency")
}

// SetTxLO tunes the transmit local oscillator.
func (d *AD9361) SetTxLO(hz int64) error {
	return d.phy.setAttrInt64("altvoltage1", true, "frequency", hz)
}

// RxRFBandwidth reads the receive analog filter bandwidth in Hz.
func (d *AD9361) RxRFBandwidth() (int64, error) {
	return d.phy.attrInt64("voltage0", false, "rf_bandwidth")
}

// SetRxRFBandwidth sets the receive analog filter bandwidth.
func (d *AD9361) SetRxRFBandwidth(hz int64) error {
	return d.phy.setAttrInt64("voltage0", false, "rf_bandwidth", hz)
}

func rxGainChannel(channel int) (string, error) {
	if channel < 0 || channel > 1 {
		return "", fmt.Errorf("adi: rx channel %d out of range [0,1]", channel)
	}
	return "voltage" + strconv.Itoa(channel), nil
}

// GainControlMode reads the AGC mode of one receive channel.
func (d *AD9361) GainControlMode(channel int) (string, error) {
	ch, err := rxGainChannel(channel)
	if err != nil {
		return "", err
	}
	return d.phy.attrString(ch, false, "gain_control_mode")
}

// SetGainControlMode sets the AGC mode of one receive channel.
func (d *AD9361) SetGainControlMode(channel int, mode string) error {
	ch, err := rxGainChannel(channel)
	if err != nil {
		return err
	}
	return d.phy.setAttrString(ch, false, "gain_control_mode", mode)
}

// RxHardwareGain reads the receive gain of one channel in dB. Only
// meaningful in manual gain mode.
func (d *AD9361) RxHardwareGain(channel int) (float64, error) {
	ch, err := rxGainChannel(channel)
	if err != nil {
		return 0, err
	}
	return d.phy.attrFloat64(ch, false, "hardwaregain")
}

// SetRxHardwareGain sets the receive gain of one channel in dB.
func (d *AD9361) SetRxHardwareGain(channel int, dB float64) error {
	ch, err := rxGainChannel(channel)
	if err != nil {
		return err
	}
	return d.phy.setAttrFloat64(ch, false, "hardwaregain", dB)
}

// TxHardwareGain reads the transmit attenuation in dB (zero or negative).
func (d *AD9361) TxHardwareGain() (float64, error) {
	return d.phy.attrFloat64("voltage0", true, "hardwaregain")
}

// SetTxHardwareGain sets the transmit attenuation in dB.
func (d *AD9361) SetTxHardwareGain(dB float64) error {
	return d.phy.setAttrFloat64("voltage0", true, "hardwaregain", dB)
}

// ddsPair returns the I and Q tone channels of one transmit chain, first
// tone generator. The DDS core lays out four generators per chain:
// I_F1, I_F2, Q_F1, Q_F2.
func ddsPair(txChannel int) (string, string, error) {
	if txChannel < 0 || txChannel > 1 {
		return "", "", fmt.Errorf("adi: tx channel %d out of range [0,1]", txChannel)
	}
	base := txChannel * 4
	return ddsChannelPrefix + strconv.Itoa(base), ddsChannelPrefix + strconv.Itoa(base+2), nil
}

// DDSSingleTone programs a single complex tone on one transmit chain and
// mutes every other generator. Scale is linear full-scale fraction [0,1].
func (d *AD9361) DDSSingleTone(freqHz int64, scale float64, txChannel int) error {
	iCh, qCh, err := ddsPair(txChannel)
	if err != nil {
		return err
	}
	if scale < 0 || scale > 1 {
		return fmt.Errorf("adi: dds scale %v out of range [0,1]", scale)
	}

	for _, ch := range d.dds.Channels() {
		if !strings.HasPrefix(ch.ID(), ddsChannelPrefix) {
			continue
		}
		if err := ch.Write("raw", "0"); err != nil {
			return fmt.Errorf("mute %s: %w", ch.ID(), err)
		}
	}

	freq := strconv.FormatInt(freqHz, 10)
	sc := strconv.FormatFloat(scale, 'f', 6, 64)
	// The I generator leads Q by 90 degrees; phase is in millidegrees.
	set := func(ch, phase string) error {
		for _, kv := range [][2]string{
			{"frequency", freq}, {"phase", phase}, {"scale", sc}, {"raw", "1"},
		} {
			if err := d.ctx.writeChannelAttr(d.dds.Name(), true, ch, kv[0], kv[1]); err != nil {
				return fmt.Errorf("set %s %s: %w", ch, kv[0], err)
			}
		}
		return nil
	}
	if err := set(iCh, "90000"); err != nil {
		return err
	}
	return set(qCh, "0")
}

// DDSOff mutes every tone generator.
func (d *AD9361) DDSOff() error {
	for _, ch := range d.dds.Channels() {
		if !strings.HasPrefix(ch.ID(), ddsChannelPrefix) {
			continue
		}
		if err := ch.Write("raw", "0"); err != nil {
			return fmt.Errorf("mute %s: %w", ch.ID(), err)
		}
	}
	return nil
}
