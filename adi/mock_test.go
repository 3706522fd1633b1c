package adi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/cristina-suteu/pyadi-iio/iiod"
)

type mockOp struct {
	cmd          string
	status       int
	payload      string
	binary       []byte
	expectBinary []byte
}

// startMockServer runs a scripted iiod endpoint, verifying commands in order
// and replying with "<status> <len>\n<payload>".
func startMockServer(t *testing.T, ops []mockOp) (string, chan error) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer listener.Close()

		conn, err := listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		for _, op := range ops {
			line, err := reader.ReadString('\n')
			if err != nil {
				errCh <- fmt.Errorf("read command: %w", err)
				return
			}
			if got := strings.TrimSpace(line); got != op.cmd {
				errCh <- fmt.Errorf("unexpected command %q, want %q", got, op.cmd)
				return
			}

			if len(op.expectBinary) > 0 {
				var prefix [4]byte
				if _, err := io.ReadFull(reader, prefix[:]); err != nil {
					errCh <- fmt.Errorf("read length prefix: %w", err)
					return
				}
				data := make([]byte, binary.BigEndian.Uint32(prefix[:]))
				if _, err := io.ReadFull(reader, data); err != nil {
					errCh <- fmt.Errorf("read binary payload: %w", err)
					return
				}
				if string(data) != string(op.expectBinary) {
					errCh <- fmt.Errorf("binary payload mismatch: got %v want %v", data, op.expectBinary)
					return
				}
			}

			payload := []byte(op.payload)
			if len(op.binary) > 0 {
				payload = op.binary
			}
			if _, err := fmt.Fprintf(conn, "%d %d\n", op.status, len(payload)); err != nil {
				errCh <- fmt.Errorf("write response header: %w", err)
				return
			}
			if len(payload) > 0 {
				if _, err := conn.Write(payload); err != nil {
					errCh <- fmt.Errorf("write response payload: %w", err)
					return
				}
			}
		}

		errCh <- nil
	}()

	return listener.Addr().String(), errCh
}

// mxfeContextXML describes a two-ADC, two-DAC MxFE with one coarse stage per
// converter and two fine stages per coarse stage. Channel order is shuffled
// on purpose: the description document gives no ordering guarantee.
const mxfeContextXML = `<?xml version="1.0" encoding="utf-8"?>
<context name="network" version-major="0" version-minor="25" description="test bench">
  <device id="iio:device0" name="axi-ad9081-rx-hpc">
    <channel id="voltage2_i" type="input">
      <scan-element index="4" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC2-&gt;CDDC0-&gt;ADC0"/>
      <attribute name="channel_nco_frequency" filename="in_voltage2_i_channel_nco_frequency"/>
    </channel>
    <channel id="voltage2_q" type="input">
      <scan-element index="5" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC2-&gt;CDDC0-&gt;ADC0"/>
    </channel>
    <channel id="voltage0_i" type="input">
      <scan-element index="0" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC0-&gt;CDDC0-&gt;ADC0"/>
      <attribute name="channel_nco_frequency" filename="in_voltage0_i_channel_nco_frequency"/>
      <attribute name="test_mode" filename="in_voltage0_i_test_mode"/>
    </channel>
    <channel id="voltage0_q" type="input">
      <scan-element index="1" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC0-&gt;CDDC0-&gt;ADC0"/>
    </channel>
    <channel id="voltage3_i" type="input">
      <scan-element index="6" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC3-&gt;CDDC1-&gt;ADC1"/>
    </channel>
    <channel id="voltage3_q" type="input">
      <scan-element index="7" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC3-&gt;CDDC1-&gt;ADC1"/>
    </channel>
    <channel id="voltage1_i" type="input">
      <scan-element index="2" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC1-&gt;CDDC1-&gt;ADC1"/>
    </channel>
    <channel id="voltage1_q" type="input">
      <scan-element index="3" format="le:S16/16&gt;&gt;0"/>
      <attribute name="label" value="FDDC1-&gt;CDDC1-&gt;ADC1"/>
    </channel>
    <channel id="voltage1_i" type="output">
      <attribute name="label" value="FDUC1-&gt;CDUC1-&gt;DAC1"/>
      <attribute name="channel_nco_frequency" filename="out_voltage1_i_channel_nco_frequency"/>
    </channel>
    <channel id="voltage0_i" type="output">
      <attribute name="label" value="FDUC0-&gt;CDUC0-&gt;DAC0"/>
      <attribute name="channel_nco_frequency" filename="out_voltage0_i_channel_nco_frequency"/>
    </channel>
    <attribute name="loopback_mode" value="0"/>
  </device>
  <device id="iio:device1" name="axi-ad9081-tx-hpc">
    <channel id="voltage1_i" type="output">
      <scan-element index="2" format="le:S16/16&gt;&gt;0"/>
    </channel>
    <channel id="voltage1_q" type="output">
      <scan-element index="3" format="le:S16/16&gt;&gt;0"/>
    </channel>
    <channel id="voltage0_i" type="output">
      <scan-element index="0" format="le:S16/16&gt;&gt;0"/>
    </channel>
    <channel id="voltage0_q" type="output">
      <scan-element index="1" format="le:S16/16&gt;&gt;0"/>
    </channel>
    <channel id="altvoltage2" type="output">
      <attribute name="frequency" filename="out_altvoltage2_frequency"/>
    </channel>
    <channel id="altvoltage0" type="output">
      <attribute name="frequency" filename="out_altvoltage0_frequency"/>
    </channel>
    <channel id="altvoltage3" type="output">
      <attribute name="frequency" filename="out_altvoltage3_frequency"/>
    </channel>
    <channel id="altvoltage1" type="output">
      <attribute name="frequency" filename="out_altvoltage1_frequency"/>
    </channel>
  </device>
</context>`

// newMockContext connects a Context against a scripted server whose first op
// serves the MxFE description, followed by ops.
func newMockContext(t *testing.T, ops []mockOp) (*Context, chan error) {
	t.Helper()

	all := append([]mockOp{{cmd: "PRINT", payload: mxfeContextXML}}, ops...)
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
	return ctx, serverErr
}

func checkServer(t *testing.T, serverErr chan error) {
	t.Helper()
	if err := <-serverErr; err != nil {
		t.Fatalf("server error: %v", err)
	}
}
