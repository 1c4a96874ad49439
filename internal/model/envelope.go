package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// Envelope layout, little-endian:
//
//	4-byte magic | 1-byte format version | 2-byte kind length | kind |
//	8-byte payload length | JSON payload
//
// The kind tag selects the concrete type on decode, so readers never need a
// generic object decoder.
var envelopeMagic = [4]byte{'O', 'E', 'M', '1'}

const (
	envelopeVersion = 1

	// maxPayloadSize guards decode against corrupt length fields.
	maxPayloadSize = 64 << 20
)

const (
	envelopeKindGBM      = "gbm"
	envelopeKindForest   = "isolation_forest"
	envelopeKindEnsemble = "ensemble"
)

type ensemblePayload struct {
	Members [][]byte `json:"members"`
}

// ArtifactSuffix is the file extension for serialized model blobs.
const ArtifactSuffix = ".oem"

// Encode serializes a trained model into the tagged binary envelope.
func Encode(m Model) ([]byte, error) {
	const op = "model.Encode"
	var kind string
	var payload any
	switch v := m.(type) {
	case *GBM:
		kind, payload = envelopeKindGBM, v
	case *IsolationForest:
		kind, payload = envelopeKindForest, v
	case *Ensemble:
		members := make([][]byte, len(v.Members))
		for i, member := range v.Members {
			b, err := Encode(member)
			if err != nil {
				return nil, err
			}
			members[i] = b
		}
		kind, payload = envelopeKindEnsemble, ensemblePayload{Members: members}
	default:
		return nil, errs.Validation(op, "unsupported model type %T", m)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.Internal(op, err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(body)+len(kind)+15))
	buf.Write(envelopeMagic[:])
	buf.WriteByte(envelopeVersion)
	var kindLen [2]byte
	binary.LittleEndian.PutUint16(kindLen[:], uint16(len(kind)))
	buf.Write(kindLen[:])
	buf.WriteString(kind)
	var bodyLen [8]byte
	binary.LittleEndian.PutUint64(bodyLen[:], uint64(len(body)))
	buf.Write(bodyLen[:])
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode reconstructs a trained model from its envelope.
func Decode(data []byte) (Model, error) {
	const op = "model.Decode"
	if len(data) < 7 {
		return nil, errs.Validation(op, "envelope truncated at %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], envelopeMagic[:]) {
		return nil, errs.Validation(op, "bad envelope magic %q", data[:4])
	}
	if data[4] != envelopeVersion {
		return nil, errs.Validation(op, "unsupported envelope version %d", data[4])
	}
	kindLen := int(binary.LittleEndian.Uint16(data[5:7]))
	if len(data) < 7+kindLen+8 {
		return nil, errs.Validation(op, "envelope truncated at %d bytes", len(data))
	}
	kind := string(data[7 : 7+kindLen])
	off := 7 + kindLen
	bodyLen := binary.LittleEndian.Uint64(data[off : off+8])
	if bodyLen > maxPayloadSize {
		return nil, errs.Validation(op, "payload length %d exceeds %d byte limit", bodyLen, maxPayloadSize)
	}
	off += 8
	if uint64(len(data)-off) < bodyLen {
		return nil, errs.Validation(op, "envelope truncated at %d bytes", len(data))
	}
	body := data[off : off+int(bodyLen)]

	switch kind {
	case envelopeKindGBM:
		var m GBM
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, errs.Validation(op, "corrupt %s payload: %v", kind, err)
		}
		return &m, nil
	case envelopeKindForest:
		var m IsolationForest
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, errs.Validation(op, "corrupt %s payload: %v", kind, err)
		}
		return &m, nil
	case envelopeKindEnsemble:
		var p ensemblePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errs.Validation(op, "corrupt %s payload: %v", kind, err)
		}
		members := make([]Model, len(p.Members))
		for i, raw := range p.Members {
			member, err := Decode(raw)
			if err != nil {
				return nil, err
			}
			members[i] = member
		}
		return NewEnsemble(members...)
	default:
		return nil, errs.Validation(op, "unknown model kind %q", kind)
	}
}
