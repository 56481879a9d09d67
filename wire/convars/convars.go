// Package convars provides a real, wire-compatible protobuf encoder and
// decoder for the two schemas the CONNECT body names explicitly:
// CMsg_CVars (a list of name/value console variables) and
// CCLCMsg_SplitPlayerConnect (one CMsg_CVars per split-screen player).
// Built directly on protowire's tag/varint primitives rather than
// generated code; these two flat messages are the only protobuf schemas
// the client decodes itself.
package convars

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// CVar is a single console variable name/value pair.
type CVar struct {
	Name  string
	Value string
}

// CMsgCVars mirrors CMsg_CVars: field 1 is a repeated CVar message.
type CMsgCVars struct {
	CVars []CVar
}

const (
	cmsgCVarsFieldCVars = protowire.Number(1)
	cvarFieldName       = protowire.Number(1)
	cvarFieldValue      = protowire.Number(2)

	splitFieldConVars = protowire.Number(1)
)

func marshalCVar(cv CVar) []byte {
	var b []byte
	b = protowire.AppendTag(b, cvarFieldName, protowire.BytesType)
	b = protowire.AppendString(b, cv.Name)
	b = protowire.AppendTag(b, cvarFieldValue, protowire.BytesType)
	b = protowire.AppendString(b, cv.Value)
	return b
}

func unmarshalCVar(data []byte) (CVar, error) {
	var cv CVar
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return cv, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case cvarFieldName:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return cv, protowire.ParseError(n)
			}
			cv.Name = v
			data = data[n:]
		case cvarFieldValue:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return cv, protowire.ParseError(n)
			}
			cv.Value = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return cv, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return cv, nil
}

// Marshal encodes m as a CMsg_CVars protobuf message.
func (m CMsgCVars) Marshal() []byte {
	var b []byte
	for _, cv := range m.CVars {
		b = protowire.AppendTag(b, cmsgCVarsFieldCVars, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalCVar(cv))
	}
	return b
}

// UnmarshalCMsgCVars decodes a CMsg_CVars protobuf message.
func UnmarshalCMsgCVars(data []byte) (CMsgCVars, error) {
	var m CMsgCVars
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case cmsgCVarsFieldCVars:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			cv, err := unmarshalCVar(v)
			if err != nil {
				return m, fmt.Errorf("convars: cvar entry: %w", err)
			}
			m.CVars = append(m.CVars, cv)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return m, nil
}

// SplitPlayerConnect mirrors CCLCMsg_SplitPlayerConnect: field 1 is the
// split-screen player's CMsg_CVars.
type SplitPlayerConnect struct {
	ConVars CMsgCVars
}

// Marshal encodes m as a CCLCMsg_SplitPlayerConnect protobuf message.
func (m SplitPlayerConnect) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, splitFieldConVars, protowire.BytesType)
	b = protowire.AppendBytes(b, m.ConVars.Marshal())
	return b
}

// UnmarshalSplitPlayerConnect decodes a CCLCMsg_SplitPlayerConnect protobuf
// message.
func UnmarshalSplitPlayerConnect(data []byte) (SplitPlayerConnect, error) {
	var m SplitPlayerConnect
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case splitFieldConVars:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			cvars, err := UnmarshalCMsgCVars(v)
			if err != nil {
				return m, fmt.Errorf("convars: split player connect: %w", err)
			}
			m.ConVars = cvars
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return m, nil
}
