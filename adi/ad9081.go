package adi

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cristina-suteu/pyadi-iio/iiod"
)

// AD9081 device and channel naming fixed by the kernel driver.
const (
	ad9081RxDevice = "axi-ad9081-rx-hpc"
	ad9081TxDevice = "axi-ad9081-tx-hpc"

	// Representative channel for scalar attributes.
	ad9081RepChannel = "voltage0_i"

	dataChannelPrefix = "voltage"
	ddsChannelPrefix  = "altvoltage"

	labelSeparator = "->"
)

var (
	// ErrLabelFormat reports a channel label that does not split into the
	// expected fine->coarse->converter triple.
	ErrLabelFormat = errors.New("adi: malformed channel label")

	// ErrPathMapInconsistent reports a hardware description whose channelizer
	// grouping violates the expected shape (e.g. a coarse stage without any
	// in-phase member channel).
	ErrPathMapInconsistent = errors.New("adi: inconsistent channelizer path map")

	// ErrFFHBankNotSelected is returned when writing a hop-bank NCO frequency
	// while bank 0 (the default, non-hopping bank) is selected.
	ErrFFHBankNotSelected = errors.New("adi: tx_main_ffh_index must be > 0 to set a FFH NCO bank frequency")
)

// ConverterID names an analog converter stage (e.g. "ADC0", "DAC1").
type ConverterID string

// CoarseID names a coarse channelizer stage (CDDC/CDUC).
type CoarseID string

// FineID names a fine channelizer stage (FDDC/FDUC).
type FineID string

// Side tags a converter group as receive or transmit. The classification is
// made once at construction from the converter id text: ids containing "ADC"
// are receive-side, everything else transmit-side. The substring convention
// is the only signal the hardware description carries.
type Side int

const (
	SideReceive Side = iota
	SideTransmit
)

func (s Side) String() string {
	if s == SideReceive {
		return "rx"
	}
	return "tx"
}

func classifySide(conv ConverterID) Side {
	if strings.Contains(string(conv), "ADC") {
		return SideReceive
	}
	return SideTransmit
}

// PathMap is the nested converter -> coarse stage -> fine stage -> channel
// ids mapping discovered from channel labels. It preserves first-encounter
// order at every level and is immutable after construction.
type PathMap struct {
	converters []ConverterID
	groups     map[ConverterID]*converterGroup
}

type converterGroup struct {
	side   Side
	coarse []CoarseID
	groups map[CoarseID]*coarseGroup
}

type coarseGroup struct {
	fine     []FineID
	channels map[FineID][]string
}

// Converters returns the converter ids in first-encounter order.
func (pm *PathMap) Converters() []ConverterID {
	return append([]ConverterID(nil), pm.converters...)
}

// Side returns the receive/transmit classification of a converter.
func (pm *PathMap) Side(conv ConverterID) (Side, bool) {
	g, ok := pm.groups[conv]
	if !ok {
		return 0, false
	}
	return g.side, true
}

// CoarseStages returns the coarse stage ids of a converter in
// first-encounter order.
func (pm *PathMap) CoarseStages(conv ConverterID) []CoarseID {
	g, ok := pm.groups[conv]
	if !ok {
		return nil
	}
	return append([]CoarseID(nil), g.coarse...)
}

// FineStages returns the fine stage ids under (converter, coarse) in
// first-encounter order.
func (pm *PathMap) FineStages(conv ConverterID, coarse CoarseID) []FineID {
	g, ok := pm.groups[conv]
	if !ok {
		return nil
	}
	cg, ok := g.groups[coarse]
	if !ok {
		return nil
	}
	return append([]FineID(nil), cg.fine...)
}

// Channels returns the channel ids of one fine-stage leaf in insertion order.
func (pm *PathMap) Channels(conv ConverterID, coarse CoarseID, fine FineID) []string {
	g, ok := pm.groups[conv]
	if !ok {
		return nil
	}
	cg, ok := g.groups[coarse]
	if !ok {
		return nil
	}
	return append([]string(nil), cg.channels[fine]...)
}

// Map renders the path map as plain nested maps, one deep copy per call.
func (pm *PathMap) Map() map[ConverterID]map[CoarseID]map[FineID][]string {
	out := make(map[ConverterID]map[CoarseID]map[FineID][]string, len(pm.converters))
	for conv, g := range pm.groups {
		cm := make(map[CoarseID]map[FineID][]string, len(g.coarse))
		for coarse, cg := range g.groups {
			fm := make(map[FineID][]string, len(cg.fine))
			for fine, chans := range cg.channels {
				fm[fine] = append([]string(nil), chans...)
			}
			cm[coarse] = fm
		}
		out[conv] = cm
	}
	return out
}

// buildPathMap walks the receive-side channel list and inserts every labeled
// channel into the nested map. Labels encode "fine->coarse->converter": the
// first token is the innermost key. Unlabeled channels are attribute-only and
// do not participate in topology.
func buildPathMap(channels []iiod.ChannelEntry) (*PathMap, error) {
	pm := &PathMap{groups: make(map[ConverterID]*converterGroup)}

	for _, ch := range channels {
		label, ok := ch.Attr("label")
		if !ok {
			continue
		}
		tokens := strings.Split(label, labelSeparator)
		if len(tokens) != 3 {
			return nil, fmt.Errorf("%w: channel %s label %q has %d tokens, want 3",
				ErrLabelFormat, ch.ID, label, len(tokens))
		}
		fine, coarse, conv := FineID(tokens[0]), CoarseID(tokens[1]), ConverterID(tokens[2])

		g, ok := pm.groups[conv]
		if !ok {
			g = &converterGroup{side: classifySide(conv), groups: make(map[CoarseID]*coarseGroup)}
			pm.groups[conv] = g
			pm.converters = append(pm.converters, conv)
		}
		cg, ok := g.groups[coarse]
		if !ok {
			cg = &coarseGroup{channels: make(map[FineID][]string)}
			g.groups[coarse] = cg
			g.coarse = append(g.coarse, coarse)
		}
		if _, ok := cg.channels[fine]; !ok {
			cg.fine = append(cg.fine, fine)
		}
		cg.channels[fine] = append(cg.channels[fine], ch.ID)
	}

	return pm, nil
}

func dataChannelIndex(name string) (int, error) {
	rest := strings.TrimPrefix(name, dataChannelPrefix)
	if rest == name {
		return 0, fmt.Errorf("channel %q lacks the %q prefix", name, dataChannelPrefix)
	}
	us := strings.IndexByte(rest, '_')
	if us < 0 {
		return 0, fmt.Errorf("channel %q lacks an i/q suffix", name)
	}
	idx, err := strconv.Atoi(rest[:us])
	if err != nil {
		return 0, fmt.Errorf("channel %q has no numeric index: %w", name, err)
	}
	return idx, nil
}

func ddsChannelIndex(name string) (int, error) {
	rest := strings.TrimPrefix(name, ddsChannelPrefix)
	if rest == name {
		return 0, fmt.Errorf("channel %q lacks the %q prefix", name, ddsChannelPrefix)
	}
	idx, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("channel %q has no numeric index: %w", name, err)
	}
	return idx, nil
}

// sortDataChannels orders complex data channel names by ascending hardware
// index, interleaving the in-phase and quadrature member of each pair:
// voltage0_i, voltage0_q, voltage1_i, voltage1_q, ...
// Vectorized NCO reads and writes address complex pairs positionally, so the
// ordering here is load-bearing.
func sortDataChannels(names []string) ([]string, error) {
	var inPhase, quadrature []string
	for _, n := range names {
		switch {
		case strings.Contains(n, "_i"):
			inPhase = append(inPhase, n)
		case strings.Contains(n, "_q"):
			quadrature = append(quadrature, n)
		}
	}
	if len(inPhase) != len(quadrature) {
		return nil, fmt.Errorf("%w: %d in-phase vs %d quadrature channels",
			ErrPathMapInconsistent, len(inPhase), len(quadrature))
	}

	var sortErr error
	byIndex := func(s []string) {
		sort.SliceStable(s, func(a, b int) bool {
			ia, errA := dataChannelIndex(s[a])
			ib, errB := dataChannelIndex(s[b])
			if errA != nil && sortErr == nil {
				sortErr = errA
			}
			if errB != nil && sortErr == nil {
				sortErr = errB
			}
			return ia < ib
		})
	}
	byIndex(inPhase)
	byIndex(quadrature)
	if sortErr != nil {
		return nil, sortErr
	}

	out := make([]string, 0, len(inPhase)*2)
	for i := range inPhase {
		out = append(out, inPhase[i], quadrature[i])
	}
	return out, nil
}

// sortDDSChannels orders tone-generator channel names by ascending numeric
// suffix. DDS channels have no i/q pairing.
func sortDDSChannels(names []string) ([]string, error) {
	out := append([]string(nil), names...)
	var sortErr error
	sort.SliceStable(out, func(a, b int) bool {
		ia, errA := ddsChannelIndex(out[a])
		ib, errB := ddsChannelIndex(out[b])
		if errA != nil && sortErr == nil {
			sortErr = errA
		}
		if errB != nil && sortErr == nil {
			sortErr = errB
		}
		return ia < ib
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

// stageLists carries the per-side coarse representative and fine member
// channel lists derived from the path map.
type stageLists struct {
	rxCoarse, rxFine []string
	txCoarse, txFine []string
}

// deriveStageLists picks, for every (converter, coarse) group, the in-phase
// member channels across all fine stages: the first becomes the group's
// representative for coarse-stage attributes, all of them address the fine
// stages. A group with no in-phase member is a broken hardware description
// and fails construction instead of panicking later.
func deriveStageLists(pm *PathMap) (stageLists, error) {
	var lists stageLists
	for _, conv := range pm.converters {
		g := pm.groups[conv]
		for _, coarse := range g.coarse {
			cg := g.groups[coarse]
			var members []string
			for _, fine := range cg.fine {
				for _, ch := range cg.channels[fine] {
					if strings.Contains(ch, "_i") {
						members = append(members, ch)
					}
				}
			}
			if len(members) == 0 {
				return stageLists{}, fmt.Errorf("%w: no in-phase channels under %s/%s",
					ErrPathMapInconsistent, conv, coarse)
			}
			if g.side == SideReceive {
				lists.rxCoarse = append(lists.rxCoarse, members[0])
				lists.rxFine = append(lists.rxFine, members...)
			} else {
				lists.txCoarse = append(lists.txCoarse, members[0])
				lists.txFine = append(lists.txFine, members...)
			}
		}
	}
	return lists, nil
}

// AD9081 binds the control plane of the AD9081 mixed-signal front end
// (MxFE): a multi-converter RF transceiver with cascaded coarse and fine
// digital down/up-conversion stages, each stage carrying its own NCO.
type AD9081 struct {
	ctx  *Context
	ctrl *Device

	pathMap *PathMap

	rxChannels  ChannelList
	txChannels  ChannelList
	ddsChannels ChannelList

	rxCoarseDDC ChannelList
	rxFineDDC   ChannelList
	txCoarseDUC ChannelList
	txFineDUC   ChannelList

	rx *RxStreamer
	tx *TxStreamer
}

// NewAD9081 discovers the channelizer topology from the context description
// and prepares the attribute surface. Attribute writes go through the
// receive-side HPC core, matching the kernel driver layout.
func NewAD9081(ctx *Context) (*AD9081, error) {
	ctrl, err := ctx.FindDevice(ad9081RxDevice)
	if err != nil {
		return nil, err
	}
	txDAC, err := ctx.FindDevice(ad9081TxDevice)
	if err != nil {
		return nil, err
	}

	pm, err := buildPathMap(ctrl.entry.Channels)
	if err != nil {
		return nil, err
	}

	var rxNames, txNames, ddsNames []string
	for _, ch := range ctrl.Channels() {
		if ch.ScanElement() && !ch.Output() {
			rxNames = append(rxNames, ch.ID())
		}
	}
	for _, ch := range txDAC.Channels() {
		if ch.ScanElement() {
			txNames = append(txNames, ch.ID())
		} else if ch.Output() {
			ddsNames = append(ddsNames, ch.ID())
		}
	}

	if rxNames, err = sortDataChannels(rxNames); err != nil {
		return nil, fmt.Errorf("sort rx channels: %w", err)
	}
	if txNames, err = sortDataChannels(txNames); err != nil {
		return nil, fmt.Errorf("sort tx channels: %w", err)
	}
	if ddsNames, err = sortDDSChannels(ddsNames); err != nil {
		return nil, fmt.Errorf("sort dds channels: %w", err)
	}

	lists, err := deriveStageLists(pm)
	if err != nil {
		return nil, err
	}

	dev := &AD9081{
		ctx:         ctx,
		ctrl:        ctrl,
		pathMap:     pm,
		rxChannels:  newChannelList(rxNames),
		txChannels:  newChannelList(txNames),
		ddsChannels: newChannelList(ddsNames),
		rxCoarseDDC: newChannelList(lists.rxCoarse),
		rxFineDDC:   newChannelList(lists.rxFine),
		txCoarseDUC: newChannelList(lists.txCoarse),
		txFineDUC:   newChannelList(lists.txFine),
	}
	dev.rx = newRxStreamer(ctrl, dev.rxChannels)
	dev.tx = newTxStreamer(txDAC, dev.txChannels)
	return dev, nil
}

// PathMap exposes the discovered channelizer topology.
func (d *AD9081) PathMap() *PathMap { return d.pathMap }

// RxChannels returns the sorted receive data channel ids.
func (d *AD9081) RxChannels() ChannelList { return d.rxChannels }

// TxChannels returns the sorted transmit data channel ids.
func (d *AD9081) TxChannels() ChannelList { return d.txChannels }

// DDSChannels returns the sorted tone-generator channel ids.
func (d *AD9081) DDSChannels() ChannelList { return d.ddsChannels }

// RxFineDDCChannels returns the fine DDC addressing list (one in-phase id per
// complex pair).
func (d *AD9081) RxFineDDCChannels() ChannelList { return d.rxFineDDC }

// RxCoarseDDCChannels returns the coarse DDC representative list.
func (d *AD9081) RxCoarseDDCChannels() ChannelList { return d.rxCoarseDDC }

// TxFineDUCChannels returns the fine DUC addressing list.
func (d *AD9081) TxFineDUCChannels() ChannelList { return d.txFineDUC }

// TxCoarseDUCChannels returns the coarse DUC representative list.
func (d *AD9081) TxCoarseDUCChannels() ChannelList { return d.txCoarseDUC }

// Rx returns the receive streamer.
func (d *AD9081) Rx() *RxStreamer { return d.rx }

// Tx returns the transmit streamer.
func (d *AD9081) Tx() *TxStreamer { return d.tx }

// RxChannelNCOFrequencies reads the receive fine DDC NCO frequencies in Hz,
// one per fine-stage channel, in list order.
func (d *AD9081) RxChannelNCOFrequencies() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.rxFineDDC, false, "channel_nco_frequency")
}

// SetRxChannelNCOFrequencies writes the receive fine DDC NCO frequencies.
func (d *AD9081) SetRxChannelNCOFrequencies(hz []int64) error {
	return d.ctrl.setAttrVecInt64(d.rxFineDDC, false, "channel_nco_frequency", hz)
}

// RxChannelNCOPhases reads the receive fine DDC NCO phases in millidegrees.
func (d *AD9081) RxChannelNCOPhases() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.rxFineDDC, false, "channel_nco_phase")
}

// SetRxChannelNCOPhases writes the receive fine DDC NCO phases.
func (d *AD9081) SetRxChannelNCOPhases(millideg []int64) error {
	return d.ctrl.setAttrVecInt64(d.rxFineDDC, false, "channel_nco_phase", millideg)
}

// RxMainNCOFrequencies reads the receive coarse DDC NCO frequencies in Hz,
// one per coarse-stage group.
func (d *AD9081) RxMainNCOFrequencies() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.rxCoarseDDC, false, "main_nco_frequency")
}

// SetRxMainNCOFrequencies writes the receive coarse DDC NCO frequencies.
func (d *AD9081) SetRxMainNCOFrequencies(hz []int64) error {
	return d.ctrl.setAttrVecInt64(d.rxCoarseDDC, false, "main_nco_frequency", hz)
}

// RxMainNCOPhases reads the receive coarse DDC NCO phases in millidegrees.
func (d *AD9081) RxMainNCOPhases() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.rxCoarseDDC, false, "main_nco_phase")
}

// SetRxMainNCOPhases writes the receive coarse DDC NCO phases.
func (d *AD9081) SetRxMainNCOPhases(millideg []int64) error {
	return d.ctrl.setAttrVecInt64(d.rxCoarseDDC, false, "main_nco_phase", millideg)
}

// TxChannelNCOFrequencies reads the transmit fine DUC NCO frequencies in Hz.
func (d *AD9081) TxChannelNCOFrequencies() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.txFineDUC, true, "channel_nco_frequency")
}

// SetTxChannelNCOFrequencies writes the transmit fine DUC NCO frequencies.
func (d *AD9081) SetTxChannelNCOFrequencies(hz []int64) error {
	return d.ctrl.setAttrVecInt64(d.txFineDUC, true, "channel_nco_frequency", hz)
}

// TxChannelNCOPhases reads the transmit fine DUC NCO phases in millidegrees.
func (d *AD9081) TxChannelNCOPhases() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.txFineDUC, true, "channel_nco_phase")
}

// SetTxChannelNCOPhases writes the transmit fine DUC NCO phases.
func (d *AD9081) SetTxChannelNCOPhases(millideg []int64) error {
	return d.ctrl.setAttrVecInt64(d.txFineDUC, true, "channel_nco_phase", millideg)
}

// TxMainNCOFrequencies reads the transmit coarse DUC NCO frequencies in Hz.
func (d *AD9081) TxMainNCOFrequencies() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.txCoarseDUC, true, "main_nco_frequency")
}

// SetTxMainNCOFrequencies writes the transmit coarse DUC NCO frequencies.
func (d *AD9081) SetTxMainNCOFrequencies(hz []int64) error {
	return d.ctrl.setAttrVecInt64(d.txCoarseDUC, true, "main_nco_frequency", hz)
}

// TxMainNCOPhases reads the transmit coarse DUC NCO phases in millidegrees.
func (d *AD9081) TxMainNCOPhases() ([]int64, error) {
	return d.ctrl.attrVecInt64(d.txCoarseDUC, true, "main_nco_phase")
}

// SetTxMainNCOPhases writes the transmit coarse DUC NCO phases.
func (d *AD9081) SetTxMainNCOPhases(millideg []int64) error {
	return d.ctrl.setAttrVecInt64(d.txCoarseDUC, true, "main_nco_phase", millideg)
}

// RxTestMode reads the ADC test mode.
func (d *AD9081) RxTestMode() (string, error) {
	return d.ctrl.attrString(ad9081RepChannel, false, "test_mode")
}

// SetRxTestMode selects an ADC test mode (e.g. "off", "pn9", "pn23").
func (d *AD9081) SetRxTestMode(mode string) error {
	return d.ctrl.setAttrString(ad9081RepChannel, false, "test_mode", mode)
}

// RxNyquistZone reads the ADC nyquist zone ("odd" or "even").
func (d *AD9081) RxNyquistZone() (string, error) {
	return d.ctrl.attrString(ad9081RepChannel, false, "nyquist_zone")
}

// SetRxNyquistZone selects the ADC nyquist zone.
func (d *AD9081) SetRxNyquistZone(zone string) error {
	return d.ctrl.setAttrString(ad9081RepChannel, false, "nyquist_zone", zone)
}

// TxMainFFHFrequency reads the NCO frequency of the hop bank selected by
// TxMainFFHIndex, in Hz.
func (d *AD9081) TxMainFFHFrequency() (int64, error) {
	return d.ctrl.attrInt64(ad9081RepChannel, true, "main_ffh_frequency")
}

// SetTxMainFFHFrequency programs the selected hop bank's NCO frequency.
// Bank 0 is the non-hopping default and cannot be programmed this way;
// select a bank with SetTxMainFFHIndex first.
func (d *AD9081) SetTxMainFFHFrequency(hz int64) error {
	index, err := d.TxMainFFHIndex()
	if err != nil {
		return err
	}
	if index == 0 {
		return ErrFFHBankNotSelected
	}
	return d.ctrl.setAttrInt64(ad9081RepChannel, true, "main_ffh_frequency", hz)
}

// TxMainFFHIndex reads the selected fast-frequency-hop NCO bank index.
func (d *AD9081) TxMainFFHIndex() (int64, error) {
	return d.ctrl.attrInt64(ad9081RepChannel, true, "main_ffh_index")
}

// SetTxMainFFHIndex selects a fast-frequency-hop NCO bank.
func (d *AD9081) SetTxMainFFHIndex(index int64) error {
	return d.ctrl.setAttrInt64(ad9081RepChannel, true, "main_ffh_index", index)
}

// TxMainFFHMode reads the hop transition mode.
func (d *AD9081) TxMainFFHMode() (string, error) {
	return d.ctrl.attrString(ad9081RepChannel, true, "main_ffh_mode")
}

// SetTxMainFFHMode sets the hop transition mode: "phase_continuous",
// "phase_incontinuous" or "phase_coherent".
func (d *AD9081) SetTxMainFFHMode(mode string) error {
	return d.ctrl.setAttrString(ad9081RepChannel, true, "main_ffh_mode", mode)
}

// LoopbackMode reads the RX->TX loopback mode device attribute.
func (d *AD9081) LoopbackMode() (int64, error) {
	raw, err := d.ctrl.ReadAttr("loopback_mode")
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

// SetLoopbackMode enables or disables RX->TX loopback.
func (d *AD9081) SetLoopbackMode(mode int64) error {
	return d.ctrl.WriteAttr("loopback_mode", strconv.FormatInt(mode, 10))
}

// RxSamplingFrequency reads the receive sample rate after decimation, in Hz.
func (d *AD9081) RxSamplingFrequency() (int64, error) {
	return d.ctrl.attrInt64(ad9081RepChannel, false, "sampling_frequency")
}

// ADCFrequency reads the raw ADC clock in Hz.
func (d *AD9081) ADCFrequency() (int64, error) {
	return d.ctrl.attrInt64(ad9081RepChannel, false, "adc_frequency")
}

// TxSamplingFrequency reads the transmit sample rate before interpolation.
func (d *AD9081) TxSamplingFrequency() (int64, error) {
	return d.ctrl.attrInt64(ad9081RepChannel, true, "sampling_frequency")
}

// DACFrequency reads the raw DAC clock in Hz.
func (d *AD9081) DACFrequency() (int64, error) {
	return d.ctrl.attrInt64(ad9081RepChannel, true, "dac_frequency")
}
