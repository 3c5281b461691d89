// Package ingest receives detection datagrams from the receivers, normalises
// them and persists them to the detection store in periodic batches.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/queue.report/internal/probe"
)

var (
	// ErrMalformedReport is returned for datagrams that cannot be decoded.
	ErrMalformedReport = errors.New("malformed detection report")
	// ErrUnknownReceiver is returned for reports from a receiver that is not
	// in the sensor map.
	ErrUnknownReceiver = errors.New("unknown receiver")
)

// Report is one decoded datagram.
type Report struct {
	ServerTime time.Time
	Device     string // hex address, as sent
	Receiver   string // hex address, as sent
	RSSI       int    // dBm
}

type wireReport struct {
	SrvTime *float64 `json:"srvTime"`
	TxAddr  string   `json:"txAddr"`
	RxAddr  string   `json:"rxAddr"`
	RSSI    *float64 `json:"rssi"`
}

// DecodeReport parses a datagram of the form
// {"srvTime": <epoch ms>, "txAddr": "<hex>", "rxAddr": "<hex>", "rssi": <dBm>}.
func DecodeReport(b []byte) (Report, error) {
	var w wireReport
	if err := json.Unmarshal(b, &w); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	switch {
	case w.SrvTime == nil:
		return Report{}, fmt.Errorf("%w: missing srvTime", ErrMalformedReport)
	case w.RSSI == nil:
		return Report{}, fmt.Errorf("%w: missing rssi", ErrMalformedReport)
	case w.TxAddr == "":
		return Report{}, fmt.Errorf("%w: missing txAddr", ErrMalformedReport)
	case w.RxAddr == "":
		return Report{}, fmt.Errorf("%w: missing rxAddr", ErrMalformedReport)
	}
	if math.IsNaN(*w.SrvTime) || math.IsInf(*w.SrvTime, 0) || *w.SrvTime < 0 {
		return Report{}, fmt.Errorf("%w: bad srvTime %v", ErrMalformedReport, *w.SrvTime)
	}
	return Report{
		ServerTime: time.UnixMilli(int64(*w.SrvTime)).UTC(),
		Device:     w.TxAddr,
		Receiver:   w.RxAddr,
		RSSI:       int(math.Round(*w.RSSI)),
	}, nil
}

// Normalizer maps reports onto stored detections.
type Normalizer struct {
	sensors map[string]int
}

// NewNormalizer builds a Normalizer from a receiver address to sensor index
// map. Addresses are matched case-insensitively.
func NewNormalizer(sensors map[string]int) *Normalizer {
	m := make(map[string]int, len(sensors))
	for addr, idx := range sensors {
		m[canonicalAddr(addr)] = idx
	}
	return &Normalizer{sensors: m}
}

func canonicalAddr(s string) string {
	return strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s)))
}

// Normalize floors the time to the second, canonicalises the device address,
// maps the receiver to its sensor index and offsets the strength.
func (n *Normalizer) Normalize(r Report) (probe.Detection, error) {
	id, err := probe.DeviceIDFromHex(r.Device)
	if err != nil {
		return probe.Detection{}, fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	idx, ok := n.sensors[canonicalAddr(r.Receiver)]
	if !ok {
		return probe.Detection{}, fmt.Errorf("%w: %s", ErrUnknownReceiver, r.Receiver)
	}
	return probe.Detection{
		Time:     r.ServerTime.Truncate(time.Second).UTC(),
		Target:   id,
		Receiver: idx,
		Strength: r.RSSI + probe.StrengthOffset,
	}, nil
}

// CollapseDuplicates keeps the strongest detection per (time, device,
// receiver). The result is sorted by time, then device, then receiver.
func CollapseDuplicates(dets []probe.Detection) []probe.Detection {
	type key struct {
		t        int64
		target   probe.DeviceID
		receiver int
	}
	best := make(map[key]int, len(dets))
	for _, d := range dets {
		k := key{d.Time.Unix(), d.Target, d.Receiver}
		if s, ok := best[k]; !ok || d.Strength > s {
			best[k] = d.Strength
		}
	}
	out := make([]probe.Detection, 0, len(best))
	for k, s := range best {
		out = append(out, probe.Detection{Time: time.Unix(k.t, 0).UTC(), Target: k.target, Receiver: k.receiver, Strength: s})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Receiver < b.Receiver
	})
	return out
}
