// Package probe holds the data model shared by ingestion, the noise miner and
// the gate pipelines: raw detections, device identifiers and the published
// headcount and queue-time records.
package probe

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StrengthOffset is added to a signed RSSI (dBm) before storage so that
// stored strengths are non-negative: a stored 0 is -100 dBm.
const StrengthOffset = 100

// NoSignal is the per-sensor sentinel (dBm) used when a sensor did not hear a
// device during a given second.
const NoSignal = -100

// ErrInvalidAddress is returned when a hardware address is not valid hex.
var ErrInvalidAddress = errors.New("invalid hardware address")

// DeviceID is the stored, canonical form of a device hardware address: the
// standard base64 encoding of the address bytes. Two reports of the same
// address compare equal regardless of the hex case used by the receiver.
type DeviceID string

// DeviceIDFromHex canonicalises a hex hardware address such as
// "a4c3f0112233" or "A4:C3:F0:11:22:33".
func DeviceIDFromHex(addr string) (DeviceID, error) {
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(addr))
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidAddress, addr, err)
	}
	return DeviceID(base64.StdEncoding.EncodeToString(raw)), nil
}

// Hex returns the upper-case hex form used by allow and deny lists.
func (d DeviceID) Hex() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(string(d))
	if err != nil {
		return "", fmt.Errorf("decode device id %q: %w", string(d), err)
	}
	return strings.ToUpper(hex.EncodeToString(raw)), nil
}

// Detection is one stored reading: a device heard by a receiver during a
// given second. Strength is the stored, offset value (see StrengthOffset).
type Detection struct {
	Time     time.Time
	Target   DeviceID
	Receiver int
	Strength int
}

// DBm returns the signed signal strength.
func (d Detection) DBm() int {
	return d.Strength - StrengthOffset
}

// Reading is a decoded detection: the device address in upper-case hex and the
// signed strength. Pipelines and the noise miner operate on readings.
type Reading struct {
	Time     time.Time
	Device   string
	Receiver int
	DBm      int
}

// Decode converts stored detections into readings, collapsing repeated
// (time, device, receiver) rows to their strongest value. Rows whose device id
// cannot be decoded are skipped and counted. Output order follows the input
// order of each key's first appearance.
func Decode(dets []Detection) ([]Reading, int) {
	type key struct {
		t        int64
		target   DeviceID
		receiver int
	}
	idx := make(map[key]int, len(dets))
	hexCache := make(map[DeviceID]string)
	out := make([]Reading, 0, len(dets))
	skipped := 0
	for _, d := range dets {
		k := key{d.Time.Unix(), d.Target, d.Receiver}
		if i, ok := idx[k]; ok {
			if d.DBm() > out[i].DBm {
				out[i].DBm = d.DBm()
			}
			continue
		}
		h, ok := hexCache[d.Target]
		if !ok {
			var err error
			h, err = d.Target.Hex()
			if err != nil {
				skipped++
				continue
			}
			hexCache[d.Target] = h
		}
		idx[k] = len(out)
		out = append(out, Reading{Time: d.Time, Device: h, Receiver: d.Receiver, DBm: d.DBm()})
	}
	return out, skipped
}
