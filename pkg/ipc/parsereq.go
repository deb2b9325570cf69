package ipc

import (
	"fmt"
	"io"

	"github.com/cuemby/rpki-client/pkg/types"
)

// ParseRequest is one unit of work handed to a parser worker: parse the
// object at Path as Type. TAL carries the entity's provenance (spec.md
// 55's queue-carried TAL name) across the process boundary so a ROA
// worker reply can stamp it onto the object without the orchestrator
// patching the result afterward. The worker's reply carries the decoded
// object or an error string, tagged by the same Type so the
// orchestrator's decode path never has to guess.
type ParseRequest struct {
	Type types.EntityType
	Path string
	TAL  string
}

// ParseResponse is a parser worker's reply to one ParseRequest. Exactly one
// of the typed fields is populated, selected by Type, unless Err is set.
type ParseResponse struct {
	Type types.EntityType
	Err  string

	Cert     types.Cert
	Manifest types.Manifest
	ROA      types.ROA
	CRL      types.CRL
	GBR      types.GBR
}

// WriteParseRequest sends one parse job down the orchestrator's request
// pipe to a KindParser worker.
func WriteParseRequest(w io.Writer, req ParseRequest) error {
	if err := WriteSimple(w, uint8(req.Type)); err != nil {
		return err
	}
	if err := WriteStr(w, req.Path); err != nil {
		return err
	}
	return WriteStr(w, req.TAL)
}

// ReadParseRequest decodes one parse job inside the re-exec'd parser
// worker's loop.
func ReadParseRequest(r io.Reader) (ParseRequest, error) {
	t, err := ReadSimple[uint8](r)
	if err != nil {
		return ParseRequest{}, err
	}
	path, err := ReadStr(r)
	if err != nil {
		return ParseRequest{}, err
	}
	tal, err := ReadStr(r)
	if err != nil {
		return ParseRequest{}, err
	}
	return ParseRequest{Type: types.EntityType(t), Path: path, TAL: tal}, nil
}

// WriteParseResponse sends a parser worker's result back up the response
// pipe. A non-nil parseErr short-circuits the typed payload entirely.
func WriteParseResponse(w io.Writer, typ types.EntityType, parseErr error, obj interface{}) error {
	if parseErr != nil {
		if err := WriteSimple(w, uint8(typ)); err != nil {
			return err
		}
		return WriteStr(w, parseErr.Error())
	}

	if err := WriteSimple(w, uint8(typ)); err != nil {
		return err
	}
	if err := WriteStr(w, ""); err != nil {
		return err
	}

	switch typ {
	case types.EntityCER:
		return WriteCert(w, obj.(types.Cert))
	case types.EntityMFT:
		return WriteManifest(w, obj.(types.Manifest))
	case types.EntityROA:
		return WriteROA(w, obj.(types.ROA))
	case types.EntityCRL:
		return WriteCRL(w, obj.(types.CRL))
	case types.EntityGBR:
		return WriteGBR(w, obj.(types.GBR))
	default:
		return fmt.Errorf("ipc: write parse response: unsupported entity type %s", typ)
	}
}

// ReadParseResponse decodes a parser worker's reply. If resp.Err is
// non-empty, the typed fields are zero and the caller should treat the job
// as failed.
func ReadParseResponse(r io.Reader) (ParseResponse, error) {
	t, err := ReadSimple[uint8](r)
	if err != nil {
		return ParseResponse{}, err
	}
	typ := types.EntityType(t)

	errStr, err := ReadStr(r)
	if err != nil {
		return ParseResponse{}, err
	}
	if errStr != "" {
		return ParseResponse{Type: typ, Err: errStr}, nil
	}

	resp := ParseResponse{Type: typ}
	switch typ {
	case types.EntityCER:
		resp.Cert, err = ReadCert(r)
	case types.EntityMFT:
		resp.Manifest, err = ReadManifest(r)
	case types.EntityROA:
		resp.ROA, err = ReadROA(r)
	case types.EntityCRL:
		resp.CRL, err = ReadCRL(r)
	case types.EntityGBR:
		resp.GBR, err = ReadGBR(r)
	default:
		return ParseResponse{}, fmt.Errorf("ipc: read parse response: unsupported entity type %s", typ)
	}
	if err != nil {
		return ParseResponse{}, err
	}
	return resp, nil
}
