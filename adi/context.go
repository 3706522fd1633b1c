// Package adi provides control-plane bindings for Analog Devices hardware
// exposed through an IIO network context (iiod).
package adi

import (
	"context"
	"fmt"

	"github.com/cristina-suteu/pyadi-iio/iiod"
	"github.com/cristina-suteu/pyadi-iio/internal/logging"
)

// AttributeWriter is an optional fallback used when iiod rejects an attribute
// write (older daemon builds lack write support for some attrs). The sysfs
// over SSH writer in internal/sysfs implements it.
type AttributeWriter interface {
	WriteAttribute(ctx context.Context, device string, output bool, channel, attr, value string) error
}

// Context wraps an iiod client plus its parsed XML description into a
// device/channel object model. The description is fetched once at connect
// time; topology is immutable for the lifetime of the connection.
type Context struct {
	client   *iiod.Client
	doc      *iiod.ContextDoc
	log      logging.Logger
	fallback AttributeWriter
}

// Connect dials an iiod URI and builds the context model.
func Connect(uri string) (*Context, error) {
	client, err := iiod.Dial(uri)
	if err != nil {
		return nil, err
	}
	ctx, err := NewContext(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return ctx, nil
}

// NewContext builds the context model over an already-dialed client.
func NewContext(client *iiod.Client) (*Context, error) {
	raw, err := client.GetXMLContext()
	if err != nil {
		return nil, fmt.Errorf("fetch context description: %w", err)
	}
	doc, err := iiod.ParseContext(raw)
	if err != nil {
		return nil, err
	}
	return &Context{
		client: client,
		doc:    doc,
		log:    logging.Default(),
	}, nil
}

// SetLogger replaces the context logger.
func (c *Context) SetLogger(log logging.Logger) {
	if log != nil {
		c.log = log
	}
}

// SetWriteFallback installs a fallback attribute writer tried when an iiod
// attribute write fails.
func (c *Context) SetWriteFallback(w AttributeWriter) { c.fallback = w }

// Close releases the underlying connection.
func (c *Context) Close() error { return c.client.Close() }

// Name returns the context name from the description document.
func (c *Context) Name() string { return c.doc.Name }

// Devices lists the devices in description order.
func (c *Context) Devices() []*Device {
	out := make([]*Device, 0, len(c.doc.Devices))
	for i := range c.doc.Devices {
		out = append(out, &Device{ctx: c, entry: &c.doc.Devices[i]})
	}
	return out
}

// FindDevice locates a device by name or id.
func (c *Context) FindDevice(name string) (*Device, error) {
	entry, ok := c.doc.FindDevice(name)
	if !ok {
		return nil, fmt.Errorf("device %q not found in context %q", name, c.doc.Name)
	}
	return &Device{ctx: c, entry: entry}, nil
}

func (c *Context) writeChannelAttr(device string, output bool, channel, attr, value string) error {
	err := c.client.WriteChannelAttr(device, output, channel, attr, value)
	if err != nil && c.fallback != nil {
		c.log.Warn("iiod attribute write failed, trying sysfs fallback",
			logging.Field{Key: "device", Value: device},
			logging.Field{Key: "attr", Value: attr},
			logging.Field{Key: "err", Value: err})
		return c.fallback.WriteAttribute(context.Background(), device, output, channel, attr, value)
	}
	return err
}

// Device is one IIO device within the context.
type Device struct {
	ctx   *Context
	entry *iiod.DeviceEntry
}

// Name returns the device name (falling back to its id).
func (d *Device) Name() string {
	if d.entry.Name != "" {
		return d.entry.Name
	}
	return d.entry.ID
}

// Channels returns the device channels in description order.
func (d *Device) Channels() []Channel {
	out := make([]Channel, 0, len(d.entry.Channels))
	for i := range d.entry.Channels {
		out = append(out, Channel{dev: d, entry: &d.entry.Channels[i]})
	}
	return out
}

// ReadAttr reads a device-level attribute.
func (d *Device) ReadAttr(attr string) (string, error) {
	return d.ctx.client.ReadDeviceAttr(d.Name(), attr)
}

// WriteAttr writes a device-level attribute.
func (d *Device) WriteAttr(attr, value string) error {
	return d.ctx.client.WriteDeviceAttr(d.Name(), attr, value)
}

// Channel is one channel of a device. A channel either carries streamed data
// (scan element) or is attribute-only.
type Channel struct {
	dev   *Device
	entry *iiod.ChannelEntry
}

// ID returns the channel identifier (e.g. "voltage0_i").
func (ch Channel) ID() string { return ch.entry.ID }

// Output reports the channel direction.
func (ch Channel) Output() bool { return ch.entry.Output() }

// ScanElement reports whether the channel carries streamed data.
func (ch Channel) ScanElement() bool { return ch.entry.ScanElement != nil }

// Label returns the static label attribute from the context description, if
// the channel carries one.
func (ch Channel) Label() (string, bool) { return ch.entry.Attr("label") }

// Read reads a live channel attribute value.
func (ch Channel) Read(attr string) (string, error) {
	return ch.dev.ctx.client.ReadChannelAttr(ch.dev.Name(), ch.Output(), ch.ID(), attr)
}

// Write writes a live channel attribute value.
func (ch Channel) Write(attr, value string) error {
	return ch.dev.ctx.writeChannelAttr(ch.dev.Name(), ch.Output(), ch.ID(), attr, value)
}
