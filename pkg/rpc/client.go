package rpc

import (
	"net"
	"time"
)

// dialTimeout bounds connection establishment for a single call. The
// call itself has no deadline; reads and writes block until the peer
// replies or the connection drops.
const dialTimeout = 10 * time.Second

// Call performs one remote invocation against the skeleton a stub
// reference points at: dial, write the call record, read the reply,
// close.
//
// args is the method's argument struct (or nil for a method without
// parameters); reply is a pointer to the result struct, or nil when the
// method returns nothing. On a successful reply the payload is decoded
// into reply. On a failure reply the error the remote method raised is
// rebuilt and returned. Any transport or marshaling problem is returned
// as an *Error.
func Call(ref StubRef, method string, paramTypes []string, args any, reply any) error {
	if ref.IsZero() {
		return Errorf("stub has no remote address")
	}

	var encoded []byte
	if args != nil {
		var err error
		encoded, err = Marshal(args)
		if err != nil {
			return WrapError("marshal arguments of "+method, err)
		}
	}

	conn, err := net.DialTimeout("tcp", ref.Addr(), dialTimeout)
	if err != nil {
		return WrapError("connect to "+ref.String(), err)
	}
	defer conn.Close()

	call := callRecord{Method: method, ParamTypes: paramTypes, Args: encoded}
	if err := writeRecord(conn, &call); err != nil {
		return WrapError("send call "+method, err)
	}

	var record replyRecord
	if err := readRecord(conn, &record); err != nil {
		return WrapError("read reply of "+method, err)
	}

	if !record.Success {
		var failure failureRecord
		if err := Unmarshal(record.Payload, &failure); err != nil {
			return WrapError("decode failure reply of "+method, err)
		}
		return decodeFailure(failure)
	}

	if reply != nil {
		if err := Unmarshal(record.Payload, reply); err != nil {
			return WrapError("decode reply of "+method, err)
		}
	}
	return nil
}

// Handle adapts a typed method implementation into a Handler: it decodes
// the argument payload into Req, invokes fn, and hands the result back
// for encoding. Service packages build their handler tables with it.
func Handle[Req any, Resp any](fn func(*Req) (*Resp, error)) Handler {
	return func(args []byte) (any, error) {
		var req Req
		if err := Unmarshal(args, &req); err != nil {
			return nil, WrapError("decode arguments", err)
		}
		resp, err := fn(&req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		return resp, nil
	}
}
