// Package anomaly defines the pre-classified anomaly events consumed from the
// predictions topic.
package anomaly

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMissingClassification is returned for events that carry no anomaly kind.
var ErrMissingClassification = errors.New("anomaly event has no classification")

// Kind is the anomaly classification assigned by the detection system.
type Kind string

const (
	KindDDoS                   Kind = "DDoS"
	KindPortScan               Kind = "PortScan"
	KindICMPFlood              Kind = "ICMPFlood"
	KindOverlayVulnerability   Kind = "OverlayVulnerability"
	KindPolicyMisconfiguration Kind = "PolicyMisconfiguration"
	KindDNSAttack              Kind = "DNSAttack"
	KindLateralMovement        Kind = "LateralMovement"
	KindResourceExhaustion     Kind = "ResourceExhaustion"
)

// Kinds lists every known classification in decision-table order.
var Kinds = []Kind{
	KindDDoS,
	KindPortScan,
	KindICMPFlood,
	KindOverlayVulnerability,
	KindPolicyMisconfiguration,
	KindDNSAttack,
	KindLateralMovement,
	KindResourceExhaustion,
}

// Known reports whether k is one of the enumerated classifications.
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Wire field names.
const (
	fieldKind        = "anomaly_type"
	fieldSource      = "src_ip"
	fieldDestination = "dst_ip"
)

// Event is a single anomaly notification. Attributes holds every payload
// field other than the classification and the two addresses.
type Event struct {
	Kind               Kind
	SourceAddress      string
	DestinationAddress string
	Attributes         map[string]string
}

// Decode parses a predictions-topic payload. A payload without anomaly_type
// decodes successfully; Validate reports the missing classification.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate returns ErrMissingClassification when the event has no kind.
func (e Event) Validate() error {
	if e.Kind == "" {
		return ErrMissingClassification
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode anomaly event: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode anomaly event: trailing data after object")
	}

	*e = Event{}
	for key, val := range raw {
		switch key {
		case fieldKind:
			e.Kind = Kind(stringValue(val))
		case fieldSource:
			e.SourceAddress = stringValue(val)
		case fieldDestination:
			e.DestinationAddress = stringValue(val)
		default:
			if val == nil {
				continue
			}
			if e.Attributes == nil {
				e.Attributes = make(map[string]string)
			}
			e.Attributes[key] = stringValue(val)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler using the wire field names.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(e.Attributes)+3)
	for k, v := range e.Attributes {
		out[k] = v
	}
	if e.Kind != "" {
		out[fieldKind] = string(e.Kind)
	}
	if e.SourceAddress != "" {
		out[fieldSource] = e.SourceAddress
	}
	if e.DestinationAddress != "" {
		out[fieldDestination] = e.DestinationAddress
	}
	return json.Marshal(out)
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
