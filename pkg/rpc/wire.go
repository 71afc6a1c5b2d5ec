package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/driftfs/pkg/dfs"
)

// Wire format.
//
// A connection carries exactly one request and one reply, then closes.
// Every record is the XDR encoding of a Go struct, framed with a 4-byte
// record mark whose high bit flags the last fragment and whose low 31
// bits carry the fragment length. Both peers marshal the same structs
// through the same XDR encoder, so the encoding agrees byte for byte.
//
// The request carries the method name, the parameter-type descriptors,
// and the XDR-encoded argument struct. The reply carries a success flag
// followed by either the XDR-encoded result struct or an encoded
// failure.

const (
	lastFragment = 0x80000000

	// maxRecordSize bounds a single framed record. Reads and writes of
	// file data dominate record size; 16 MiB leaves generous headroom.
	maxRecordSize = 16 << 20
)

type callRecord struct {
	Method     string
	ParamTypes []string
	Args       []byte
}

type replyRecord struct {
	Success bool
	Payload []byte
}

// failureRecord is the wire form of an error. Kind selects how the
// caller rebuilds it; domain failures come back as dfs errors, anything
// else as an invocation failure.
type failureRecord struct {
	Kind    string
	Message string
	Path    string
}

const (
	kindRPC             = "rpc"
	kindNotFound        = "not-found"
	kindOutOfBounds     = "out-of-bounds"
	kindIO              = "io"
	kindNullArgument    = "null-argument"
	kindIllegalState    = "illegal-state"
	kindIllegalArgument = "illegal-argument"
)

// Marshal encodes a value with the wire serializer. Service packages use
// it to build argument and result payloads.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a payload produced by Marshal into v, which must be
// a pointer.
func Unmarshal(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("xdr unmarshal: %w", err)
	}
	return nil
}

// writeRecord frames and writes one XDR-encoded record.
func writeRecord(w io.Writer, v any) error {
	body, err := Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > maxRecordSize {
		return fmt.Errorf("record of %d bytes exceeds maximum %d", len(body), maxRecordSize)
	}

	var mark [4]byte
	binary.BigEndian.PutUint32(mark[:], lastFragment|uint32(len(body)))
	if _, err := w.Write(mark[:]); err != nil {
		return fmt.Errorf("write record mark: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write record body: %w", err)
	}
	return nil
}

// readRecord reads one framed record and decodes it into v. Records
// split across multiple fragments are reassembled before decoding.
func readRecord(r io.Reader, v any) error {
	var body []byte
	for {
		var mark [4]byte
		if _, err := io.ReadFull(r, mark[:]); err != nil {
			return fmt.Errorf("read record mark: %w", err)
		}

		header := binary.BigEndian.Uint32(mark[:])
		length := header & ^uint32(lastFragment)
		if uint64(len(body))+uint64(length) > maxRecordSize {
			return fmt.Errorf("record exceeds maximum size %d", maxRecordSize)
		}

		fragment := make([]byte, length)
		if _, err := io.ReadFull(r, fragment); err != nil {
			return fmt.Errorf("read record body: %w", err)
		}
		body = append(body, fragment...)

		if header&lastFragment != 0 {
			break
		}
	}
	return Unmarshal(body, v)
}

// encodeFailure maps an error raised by a method handler to its wire
// form. Domain errors keep their kind; everything else is reported as an
// invocation failure.
func encodeFailure(err error) failureRecord {
	if e, ok := err.(*dfs.Error); ok {
		return failureRecord{Kind: domainKind(e.Code), Message: e.Message, Path: e.Path}
	}
	return failureRecord{Kind: kindRPC, Message: err.Error()}
}

// decodeFailure rebuilds the error a reply carried.
func decodeFailure(f failureRecord) error {
	switch f.Kind {
	case kindNotFound:
		return &dfs.Error{Code: dfs.ErrNotFound, Message: f.Message, Path: f.Path}
	case kindOutOfBounds:
		return &dfs.Error{Code: dfs.ErrOutOfBounds, Message: f.Message, Path: f.Path}
	case kindIO:
		return &dfs.Error{Code: dfs.ErrIO, Message: f.Message, Path: f.Path}
	case kindNullArgument:
		return &dfs.Error{Code: dfs.ErrNullArgument, Message: f.Message, Path: f.Path}
	case kindIllegalState:
		return &dfs.Error{Code: dfs.ErrIllegalState, Message: f.Message, Path: f.Path}
	case kindIllegalArgument:
		return &dfs.Error{Code: dfs.ErrIllegalArgument, Message: f.Message, Path: f.Path}
	default:
		return &Error{Message: "remote invocation failed: " + f.Message}
	}
}

func domainKind(code dfs.ErrorCode) string {
	switch code {
	case dfs.ErrNotFound:
		return kindNotFound
	case dfs.ErrOutOfBounds:
		return kindOutOfBounds
	case dfs.ErrIO:
		return kindIO
	case dfs.ErrNullArgument:
		return kindNullArgument
	case dfs.ErrIllegalState:
		return kindIllegalState
	case dfs.ErrIllegalArgument:
		return kindIllegalArgument
	default:
		return kindRPC
	}
}
