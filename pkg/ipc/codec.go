package ipc

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/cuemby/rpki-client/pkg/types"
)

// msgpackHandle is shared by every encoder/decoder pair in this package; it
// carries no per-call state so one package-level instance is safe for
// concurrent use across workers.
var msgpackHandle = &codec.MsgpackHandle{}

// talWire, certWire, manifestWire and roaWire mirror pkg/types' domain
// structs field-for-field. They exist so the wire format doesn't silently
// change shape if a types.* struct grows an unexported field or a method
// set that msgpack would otherwise try to reflect over; every field listed
// here round-trips through *_buffer/*_read bit-for-bit.
type talWire struct {
	Name         string
	URIs         []string
	PublicKeyDER []byte
}

type certWire struct {
	AS           []types.ASElement
	IP           []types.IPElement
	Repo         string
	MFT          string
	Notify       string
	CRL          string
	AIA          string
	AKI          []byte
	SKI          []byte
	Valid        bool
	NotAfter     time.Time
	PublicKeyDER []byte
	Raw          []byte
}

type manifestEntryWire struct {
	Filename string
	Hash     [32]byte
}

type manifestWire struct {
	AKI, SKI   []byte
	AIA        string
	Number     uint64
	ThisUpdate time.Time
	NextUpdate time.Time
	Stale      bool
	Entries    []manifestEntryWire
}

type roaPrefixWire struct {
	AFI       types.AFI
	Prefix    []byte
	PrefixLen int
	MaxLength int
}

type roaWire struct {
	AKI, SKI    []byte
	AIA         string
	ASID        uint32
	Prefixes    []roaPrefixWire
	TAL         string
	Expires     time.Time
	EEResources []types.IPElement
	EENotAfter  time.Time
}

type crlWire struct {
	AKI        []byte
	ThisUpdate time.Time
	NextUpdate time.Time
	Revoked    []string
}

type gbrWire struct {
	AKI, SKI []byte
	AIA      string
	VCard    []byte
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("ipc: msgpack encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("ipc: msgpack decode: %w", err)
	}
	return nil
}

// WriteTAL is tal_buffer: it serializes a TAL into an append-only byte
// buffer framed with a length prefix.
func WriteTAL(w io.Writer, tal types.TAL) error {
	wire := talWire{Name: tal.Name, URIs: tal.URIs, PublicKeyDER: tal.PublicKeyDER}
	body, err := encode(wire)
	if err != nil {
		return err
	}
	return WriteBuf(w, body)
}

// ReadTAL is tal_read: a blocking decode from a descriptor.
func ReadTAL(r io.Reader) (types.TAL, error) {
	body, err := ReadBuf(r)
	if err != nil {
		return types.TAL{}, err
	}
	var wire talWire
	if err := decode(body, &wire); err != nil {
		return types.TAL{}, err
	}
	return types.TAL{Name: wire.Name, URIs: wire.URIs, PublicKeyDER: wire.PublicKeyDER}, nil
}

// WriteCert is cert_buffer.
func WriteCert(w io.Writer, c types.Cert) error {
	wire := certWire{
		AS: c.AS, IP: c.IP, Repo: c.Repo, MFT: c.MFT, Notify: c.Notify,
		CRL: c.CRL, AIA: c.AIA, AKI: c.AKI, SKI: c.SKI, Valid: c.Valid,
		NotAfter: c.NotAfter, PublicKeyDER: c.PublicKeyDER, Raw: c.Raw,
	}
	body, err := encode(wire)
	if err != nil {
		return err
	}
	return WriteBuf(w, body)
}

// ReadCert is cert_read.
func ReadCert(r io.Reader) (types.Cert, error) {
	body, err := ReadBuf(r)
	if err != nil {
		return types.Cert{}, err
	}
	var wire certWire
	if err := decode(body, &wire); err != nil {
		return types.Cert{}, err
	}
	return types.Cert{
		AS: wire.AS, IP: wire.IP, Repo: wire.Repo, MFT: wire.MFT, Notify: wire.Notify,
		CRL: wire.CRL, AIA: wire.AIA, AKI: wire.AKI, SKI: wire.SKI, Valid: wire.Valid,
		NotAfter: wire.NotAfter, PublicKeyDER: wire.PublicKeyDER, Raw: wire.Raw,
	}, nil
}

// WriteManifest is mft_buffer.
func WriteManifest(w io.Writer, m types.Manifest) error {
	wire := manifestWire{
		AKI: m.AKI, SKI: m.SKI, AIA: m.AIA, Number: m.Number,
		ThisUpdate: m.ThisUpdate, NextUpdate: m.NextUpdate, Stale: m.Stale,
	}
	for _, e := range m.Entries {
		wire.Entries = append(wire.Entries, manifestEntryWire{Filename: e.Filename, Hash: e.Hash})
	}
	body, err := encode(wire)
	if err != nil {
		return err
	}
	return WriteBuf(w, body)
}

// ReadManifest is mft_read.
func ReadManifest(r io.Reader) (types.Manifest, error) {
	body, err := ReadBuf(r)
	if err != nil {
		return types.Manifest{}, err
	}
	var wire manifestWire
	if err := decode(body, &wire); err != nil {
		return types.Manifest{}, err
	}
	m := types.Manifest{
		AKI: wire.AKI, SKI: wire.SKI, AIA: wire.AIA, Number: wire.Number,
		ThisUpdate: wire.ThisUpdate, NextUpdate: wire.NextUpdate, Stale: wire.Stale,
	}
	for _, e := range wire.Entries {
		m.Entries = append(m.Entries, types.ManifestEntry{Filename: e.Filename, Hash: e.Hash})
	}
	return m, nil
}

// WriteROA is roa_buffer.
func WriteROA(w io.Writer, roa types.ROA) error {
	wire := roaWire{
		AKI: roa.AKI, SKI: roa.SKI, AIA: roa.AIA, ASID: roa.ASID, TAL: roa.TAL, Expires: roa.Expires,
		EEResources: roa.EEResources, EENotAfter: roa.EENotAfter,
	}
	for _, p := range roa.Prefixes {
		wire.Prefixes = append(wire.Prefixes, roaPrefixWire{AFI: p.AFI, Prefix: p.Prefix, PrefixLen: p.PrefixLen, MaxLength: p.MaxLength})
	}
	body, err := encode(wire)
	if err != nil {
		return err
	}
	return WriteBuf(w, body)
}

// ReadROA is roa_read.
func ReadROA(r io.Reader) (types.ROA, error) {
	body, err := ReadBuf(r)
	if err != nil {
		return types.ROA{}, err
	}
	var wire roaWire
	if err := decode(body, &wire); err != nil {
		return types.ROA{}, err
	}
	roa := types.ROA{
		AKI: wire.AKI, SKI: wire.SKI, AIA: wire.AIA, ASID: wire.ASID, TAL: wire.TAL, Expires: wire.Expires,
		EEResources: wire.EEResources, EENotAfter: wire.EENotAfter,
	}
	for _, p := range wire.Prefixes {
		roa.Prefixes = append(roa.Prefixes, types.ROAPrefix{AFI: p.AFI, Prefix: p.Prefix, PrefixLen: p.PrefixLen, MaxLength: p.MaxLength})
	}
	return roa, nil
}

// WriteCRL is crl_buffer. Revoked is carried as a sorted slice of serial
// strings; set membership is rebuilt on the reading side.
func WriteCRL(w io.Writer, crl types.CRL) error {
	wire := crlWire{AKI: crl.AKI, ThisUpdate: crl.ThisUpdate, NextUpdate: crl.NextUpdate}
	for serial := range crl.Revoked {
		wire.Revoked = append(wire.Revoked, serial)
	}
	sort.Strings(wire.Revoked)
	body, err := encode(wire)
	if err != nil {
		return err
	}
	return WriteBuf(w, body)
}

// ReadCRL is crl_read.
func ReadCRL(r io.Reader) (types.CRL, error) {
	body, err := ReadBuf(r)
	if err != nil {
		return types.CRL{}, err
	}
	var wire crlWire
	if err := decode(body, &wire); err != nil {
		return types.CRL{}, err
	}
	crl := types.CRL{AKI: wire.AKI, ThisUpdate: wire.ThisUpdate, NextUpdate: wire.NextUpdate}
	if len(wire.Revoked) > 0 {
		crl.Revoked = make(map[string]struct{}, len(wire.Revoked))
		for _, serial := range wire.Revoked {
			crl.Revoked[serial] = struct{}{}
		}
	}
	return crl, nil
}

// WriteGBR is gbr_buffer.
func WriteGBR(w io.Writer, gbr types.GBR) error {
	wire := gbrWire{AKI: gbr.AKI, SKI: gbr.SKI, AIA: gbr.AIA, VCard: gbr.VCard}
	body, err := encode(wire)
	if err != nil {
		return err
	}
	return WriteBuf(w, body)
}

// ReadGBR is gbr_read.
func ReadGBR(r io.Reader) (types.GBR, error) {
	body, err := ReadBuf(r)
	if err != nil {
		return types.GBR{}, err
	}
	var wire gbrWire
	if err := decode(body, &wire); err != nil {
		return types.GBR{}, err
	}
	return types.GBR{AKI: wire.AKI, SKI: wire.SKI, AIA: wire.AIA, VCard: wire.VCard}, nil
}
