package iiod

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Buffer represents an open IIO stream buffer on a remote device. Channels
// are enabled through their "en" attribute before the buffer is opened.
type Buffer struct {
	client   *Client
	device   string
	output   bool
	samples  int
	channels []string
	open     bool
}

// CreateBuffer enables the named channels on a device and opens a stream
// buffer holding the given number of samples.
func (c *Client) CreateBuffer(device string, output bool, channels []string, samples int) (*Buffer, error) {
	if strings.TrimSpace(device) == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if samples <= 0 {
		return nil, fmt.Errorf("sample count must be positive")
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	for _, ch := range channels {
		if err := c.WriteChannelAttr(device, output, ch, "en", "1"); err != nil {
			return nil, fmt.Errorf("enable channel %s: %w", ch, err)
		}
	}
	if err := c.openBuffer(device, samples); err != nil {
		return nil, fmt.Errorf("open buffer on %s: %w", device, err)
	}

	return &Buffer{
		client:   c,
		device:   device,
		output:   output,
		samples:  samples,
		channels: append([]string(nil), channels...),
		open:     true,
	}, nil
}

// Channels returns the enabled channel ids, in enable order.
func (b *Buffer) Channels() []string { return append([]string(nil), b.channels...) }

// ReadSamples reads one buffer worth of raw frames from the device. The frame
// layout interleaves the enabled channels in enable order.
func (b *Buffer) ReadSamples() ([]byte, error) {
	if !b.open {
		return nil, fmt.Errorf("buffer is not open")
	}
	data, err := b.client.readBuffer(b.device, b.samples)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no data returned from buffer read")
	}
	return data, nil
}

// WriteSamples pushes raw frames to the device for transmission.
func (b *Buffer) WriteSamples(data []byte) error {
	if !b.open {
		return fmt.Errorf("buffer is not open")
	}
	if len(data) == 0 {
		return fmt.Errorf("no data to write")
	}
	return b.client.writeBuffer(b.device, data)
}

// Close destroys the buffer on the remote device. Safe to call twice.
func (b *Buffer) Close() error {
	if !b.open {
		return nil
	}
	b.open = false
	return b.client.closeBuffer(b.device)
}

// ParseInt16Samples parses raw frame bytes as little-endian int16 samples.
func ParseInt16Samples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("data length must be even for int16 samples")
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples, nil
}

// FormatInt16Samples renders int16 samples as little-endian frame bytes.
func FormatInt16Samples(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(s))
	}
	return data
}

// DeinterleaveIQ extracts the I and Q streams of one complex channel from
// frames that interleave numChannels complex channels:
//
//	[I0_ch0, Q0_ch0, I0_ch1, Q0_ch1, I1_ch0, ...]
func DeinterleaveIQ(samples []int16, numChannels, channelIndex int) ([]int16, []int16, error) {
	if numChannels <= 0 {
		return nil, nil, fmt.Errorf("numChannels must be positive")
	}
	if channelIndex < 0 || channelIndex >= numChannels {
		return nil, nil, fmt.Errorf("channelIndex out of range")
	}
	if len(samples)%(numChannels*2) != 0 {
		return nil, nil, fmt.Errorf("sample count not divisible by number of channels")
	}

	perChannel := len(samples) / (numChannels * 2)
	iSamples := make([]int16, perChannel)
	qSamples := make([]int16, perChannel)
	for i := 0; i < perChannel; i++ {
		base := i*numChannels*2 + channelIndex*2
		iSamples[i] = samples[base]
		qSamples[i] = samples[base+1]
	}
	return iSamples, qSamples, nil
}

// InterleaveIQ builds interleaved frames from per-channel [I, Q] slice pairs.
func InterleaveIQ(channels [][2][]int16) ([]int16, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels provided")
	}
	perChannel := len(channels[0][0])
	for i, ch := range channels {
		if len(ch[0]) != perChannel || len(ch[1]) != perChannel {
			return nil, fmt.Errorf("channel %d has mismatched I/Q lengths", i)
		}
	}

	out := make([]int16, perChannel*len(channels)*2)
	for s := 0; s < perChannel; s++ {
		for c, ch := range channels {
			base := s*len(channels)*2 + c*2
			out[base] = ch[0][s]
			out[base+1] = ch[1][s]
		}
	}
	return out, nil
}
