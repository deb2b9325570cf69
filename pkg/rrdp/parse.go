package rrdp

import (
	"encoding/xml"
	"fmt"
	"io"
)

// ParseNotification decodes a notification.xml document. encoding/xml
// rejects a parent>child chain combined with the attr flag, so the
// snapshot element's attributes are decoded through a local struct.
func ParseNotification(r io.Reader) (*Notification, error) {
	var wire struct {
		XMLName   xml.Name `xml:"notification"`
		Version   int      `xml:"version,attr"`
		SessionID string   `xml:"session_id,attr"`
		Serial    uint64   `xml:"serial,attr"`
		Snapshot  struct {
			URI  string `xml:"uri,attr"`
			Hash string `xml:"hash,attr"`
		} `xml:"snapshot"`
		Deltas []DeltaRef `xml:"delta"`
	}
	if err := xml.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("rrdp: parse notification: %w", err)
	}
	return &Notification{XMLName: wire.XMLName, Version: wire.Version, SessionID: wire.SessionID, Serial: wire.Serial,
		SnapshotURI: wire.Snapshot.URI, SnapshotHash: wire.Snapshot.Hash, Deltas: wire.Deltas}, nil
}

// ParseSnapshot decodes a snapshot.xml document.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := xml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("rrdp: parse snapshot: %w", err)
	}
	return &s, nil
}

// ParseDelta decodes a delta.xml document.
func ParseDelta(r io.Reader) (*Delta, error) {
	var d Delta
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("rrdp: parse delta: %w", err)
	}
	return &d, nil
}
