package iiod

import (
	"encoding/xml"
	"fmt"
)

// ContextDoc mirrors the XML context description served by iiod via PRINT.
// The schema follows libiio's iio.xsd and is stable across v0.x releases.
type ContextDoc struct {
	XMLName      xml.Name           `xml:"context"`
	Name         string             `xml:"name,attr"`
	VersionMajor string             `xml:"version-major,attr"`
	VersionMinor string             `xml:"version-minor,attr"`
	Description  string             `xml:"description,attr"`
	Attributes   []ContextAttribute `xml:"context-attribute"`
	Devices      []DeviceEntry      `xml:"device"`
}

type ContextAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type DeviceEntry struct {
	ID    string `xml:"id,attr"`
	Name  string `xml:"name,attr"`
	Label string `xml:"label,attr"` // not always present

	Channels   []ChannelEntry `xml:"channel"`
	Attributes []DevAttribute `xml:"attribute"`
}

type ChannelEntry struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"` // input | output

	Attributes  []ChannelAttr `xml:"attribute"`
	ScanElement *ScanElement  `xml:"scan-element"`
}

// Output reports whether the channel is an output (DAC-side) channel.
func (ch ChannelEntry) Output() bool { return ch.Type == "output" }

// Attr returns the static value of a channel attribute from the context
// document, or ok=false if the channel does not carry it.
func (ch ChannelEntry) Attr(name string) (string, bool) {
	for _, a := range ch.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

type DevAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type ChannelAttr struct {
	Name     string `xml:"name,attr"`
	Filename string `xml:"filename,attr"`
	Value    string `xml:"value,attr"`
}

type ScanElement struct {
	Index  string `xml:"index,attr"`
	Format string `xml:"format,attr"`
}

// ParseContext decodes a PRINT dump into a ContextDoc.
func ParseContext(data []byte) (*ContextDoc, error) {
	var doc ContextDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse context XML: %w", err)
	}
	return &doc, nil
}

// FindDevice locates a device entry by id or name.
func (d *ContextDoc) FindDevice(name string) (*DeviceEntry, bool) {
	for i := range d.Devices {
		if d.Devices[i].ID == name || d.Devices[i].Name == name {
			return &d.Devices[i], true
		}
	}
	return nil, false
}
