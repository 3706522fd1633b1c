package adi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrLengthMismatch is returned by vector setters when the value count does
// not match the target channel list. Positional coupling between list index
// and physical channel is the contract every vector attribute relies on, so a
// short or long write is rejected up front instead of truncated.
var ErrLengthMismatch = errors.New("adi: value count does not match channel list length")

// ChannelList is an immutable ordered association from logical index to
// channel identifier. Vector attribute reads and writes address channels
// positionally through it.
type ChannelList struct {
	names []string
}

func newChannelList(names []string) ChannelList {
	return ChannelList{names: append([]string(nil), names...)}
}

// Len returns the number of channels in the list.
func (l ChannelList) Len() int { return len(l.names) }

// Name returns the channel id at logical index i.
func (l ChannelList) Name(i int) string { return l.names[i] }

// Names returns a copy of the ordered channel ids.
func (l ChannelList) Names() []string { return append([]string(nil), l.names...) }

func (l ChannelList) String() string { return strings.Join(l.names, ",") }

// attrString reads one channel attribute as a string.
func (d *Device) attrString(channel string, output bool, attr string) (string, error) {
	return d.ctx.client.ReadChannelAttr(d.Name(), output, channel, attr)
}

func (d *Device) setAttrString(channel string, output bool, attr, value string) error {
	return d.ctx.writeChannelAttr(d.Name(), output, channel, attr, value)
}

// attrInt64 reads one channel attribute as a 64-bit integer.
func (d *Device) attrInt64(channel string, output bool, attr string) (int64, error) {
	raw, err := d.attrString(channel, output, attr)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s on %s is not an integer (%q): %w", attr, channel, raw, err)
	}
	return v, nil
}

func (d *Device) setAttrInt64(channel string, output bool, attr string, value int64) error {
	return d.setAttrString(channel, output, attr, strconv.FormatInt(value, 10))
}

// attrFloat64 reads one channel attribute as a float. Some attributes come
// back with a unit suffix ("12.5 dB"); only the first token is parsed.
func (d *Device) attrFloat64(channel string, output bool, attr string) (float64, error) {
	raw, err := d.attrString(channel, output, attr)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, fmt.Errorf("attribute %s on %s is empty", attr, channel)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s on %s is not a number (%q): %w", attr, channel, raw, err)
	}
	return v, nil
}

func (d *Device) setAttrFloat64(channel string, output bool, attr string, value float64) error {
	return d.setAttrString(channel, output, attr, strconv.FormatFloat(value, 'f', -1, 64))
}

// attrVecInt64 reads one attribute across a channel list. The result order
// matches the list order.
func (d *Device) attrVecInt64(list ChannelList, output bool, attr string) ([]int64, error) {
	out := make([]int64, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		v, err := d.attrInt64(list.Name(i), output, attr)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", attr, list.Name(i), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// setAttrVecInt64 writes values[i] to list channel i, in list order. Writes
// are sequential with no atomicity across the set; a failure leaves the
// device partially updated.
func (d *Device) setAttrVecInt64(list ChannelList, output bool, attr string, values []int64) error {
	if len(values) != list.Len() {
		return fmt.Errorf("%w: got %d values for %d channels", ErrLengthMismatch, len(values), list.Len())
	}
	for i, v := range values {
		if err := d.setAttrInt64(list.Name(i), output, attr, v); err != nil {
			return fmt.Errorf("write %s to %s: %w", attr, list.Name(i), err)
		}
	}
	return nil
}

func (d *Device) attrVecFloat64(list ChannelList, output bool, attr string) ([]float64, error) {
	out := make([]float64, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		v, err := d.attrFloat64(list.Name(i), output, attr)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", attr, list.Name(i), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Device) setAttrVecFloat64(list ChannelList, output bool, attr string, values []float64) error {
	if len(values) != list.Len() {
		return fmt.Errorf("%w: got %d values for %d channels", ErrLengthMismatch, len(values), list.Len())
	}
	for i, v := range values {
		if err := d.setAttrFloat64(list.Name(i), output, attr, v); err != nil {
			return fmt.Errorf("write %s to %s: %w", attr, list.Name(i), err)
		}
	}
	return nil
}
