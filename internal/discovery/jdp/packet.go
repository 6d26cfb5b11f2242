// Package jdp listens for Java Discovery Protocol broadcasts and keeps the
// "JDP" realm of the discovery tree in sync with them.
package jdp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// Magic starts every JDP packet.
const Magic uint32 = 0xC0FFEE42

// Version is the only protocol version understood.
const Version uint16 = 1

// Packet keys.
const (
	KeyUUID              = "DISCOVERABLE_SESSION_UUID"
	KeyMainClass         = "MAIN_CLASS"
	KeyServiceURL        = "JMX_SERVICE_URL"
	KeyInstanceName      = "INSTANCE_NAME"
	KeyProcessID         = "PROCESS_ID"
	KeyBroadcastInterval = "BROADCAST_INTERVAL"
	KeyRMIHostname       = "RMI_HOSTNAME"
)

// DefaultBroadcastInterval applies when a packet does not announce one.
const DefaultBroadcastInterval = 5 * time.Second

var errBadMagic = errors.New("not a JDP packet")

// Packet is one decoded broadcast.
type Packet struct {
	Entries map[string]string
}

// ServiceURL returns the JMX service URL, the only mandatory entry.
func (p Packet) ServiceURL() string { return p.Entries[KeyServiceURL] }

// BroadcastInterval returns the announced interval or the default.
func (p Packet) BroadcastInterval() time.Duration {
	ms, err := strconv.Atoi(p.Entries[KeyBroadcastInterval])
	if err != nil || ms <= 0 {
		return DefaultBroadcastInterval
	}
	return time.Duration(ms) * time.Millisecond
}

// Decode parses a JDP packet: magic, version, then length-prefixed
// key/value string pairs.
func Decode(data []byte) (Packet, error) {
	r := bytes.NewReader(data)
	var magic uint32
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil || magic != Magic {
		return Packet{}, errBadMagic
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return Packet{}, fmt.Errorf("truncated JDP header: %w", err)
	}
	if version != Version {
		return Packet{}, fmt.Errorf("unsupported JDP version %d", version)
	}

	p := Packet{Entries: map[string]string{}}
	for r.Len() > 0 {
		key, err := readString(r)
		if err != nil {
			return Packet{}, err
		}
		value, err := readString(r)
		if err != nil {
			return Packet{}, err
		}
		p.Entries[key] = value
	}
	if p.ServiceURL() == "" {
		return Packet{}, fmt.Errorf("JDP packet without %s", KeyServiceURL)
	}
	return p, nil
}

// Encode renders a packet, with keys in sorted order.
func Encode(p Packet) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, Magic)
	_ = binary.Write(&buf, binary.BigEndian, Version)
	keys := make([]string, 0, len(p.Entries))
	for k := range p.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(&buf, k)
		writeString(&buf, p.Entries[k])
	}
	return buf.Bytes()
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("truncated JDP entry: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("truncated JDP entry: %w", err)
	}
	return string(b), nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}
