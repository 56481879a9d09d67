// Package netmsg implements the tag/size/body framing multiplexed inside
// every NetChannel payload: a stream of (varint32 id, varint32 size, size
// bytes of body) records. The body of each record is a protobuf schema
// kept opaque here, except for the two schemas this module decodes for
// real (see wire/convars).
package netmsg

import (
	"errors"
	"fmt"

	"github.com/cipherleaf/senetchan/bitio"
)

// ErrUnknownMessage is the base error wrapped by UnknownMessageError(id).
var ErrUnknownMessage = errors.New("netmsg: unknown message id")

// UnknownMessageError reports an id outside the dispatch table below.
// Unknown ids are a recoverable, per-frame condition: the caller logs and
// skips the record's bytes rather than tearing down the session.
type UnknownMessageError struct {
	ID uint32
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("netmsg: unknown message id %d", e.ID)
}

func (e *UnknownMessageError) Unwrap() error { return ErrUnknownMessage }

// Well-known NET_*/SVC_* message ids, as shipped in the Source Engine's
// netmessages protobuf schema set. id 0 is reserved for NOP.
const (
	IDNop                  uint32 = 0
	IDNetDisconnect        uint32 = 1
	IDNetFile              uint32 = 2
	IDNetSplitScreenUser   uint32 = 3
	IDNetTick              uint32 = 4
	IDNetStringCmd         uint32 = 5
	IDNetSetConVar         uint32 = 6
	IDNetSignonState       uint32 = 7
	IDSvcServerInfo        uint32 = 8
	IDSvcSendTable         uint32 = 9
	IDSvcClassInfo         uint32 = 10
	IDSvcSetPause          uint32 = 11
	IDSvcCreateStringTable uint32 = 12
	IDSvcUpdateStringTable uint32 = 13
	IDSvcVoiceInit         uint32 = 14
	IDSvcVoiceData         uint32 = 15
	IDSvcPrint             uint32 = 16
	IDSvcSounds            uint32 = 17
	IDSvcSetView           uint32 = 18
	IDSvcFixAngle          uint32 = 19
	IDSvcCrosshairAngle    uint32 = 20
	IDSvcBSPDecal          uint32 = 21
	IDSvcSplitScreen       uint32 = 22
	IDSvcUserMessage       uint32 = 23
	IDSvcEntityMessage     uint32 = 24
	IDSvcGameEvent         uint32 = 25
	IDSvcPacketEntities    uint32 = 26
	IDSvcTempEntities      uint32 = 27
	IDSvcPrefetch          uint32 = 28
	IDSvcMenu              uint32 = 29
	IDSvcGameEventList     uint32 = 30
	IDSvcGetCvarValue      uint32 = 31
	IDSvcCmdKeyValues      uint32 = 32
	IDSvcPaintmapData      uint32 = 33
	IDSvcEncryptedData     uint32 = 34
	IDSvcHltvReplay        uint32 = 35
)

var typeNames = map[uint32]string{
	IDNop:                  "net_NOP",
	IDNetDisconnect:        "net_Disconnect",
	IDNetFile:              "net_File",
	IDNetSplitScreenUser:   "net_SplitScreenUser",
	IDNetTick:              "net_Tick",
	IDNetStringCmd:         "net_StringCmd",
	IDNetSetConVar:         "net_SetConVar",
	IDNetSignonState:       "net_SignonState",
	IDSvcServerInfo:        "svc_ServerInfo",
	IDSvcSendTable:         "svc_SendTable",
	IDSvcClassInfo:         "svc_ClassInfo",
	IDSvcSetPause:          "svc_SetPause",
	IDSvcCreateStringTable: "svc_CreateStringTable",
	IDSvcUpdateStringTable: "svc_UpdateStringTable",
	IDSvcVoiceInit:         "svc_VoiceInit",
	IDSvcVoiceData:         "svc_VoiceData",
	IDSvcPrint:             "svc_Print",
	IDSvcSounds:            "svc_Sounds",
	IDSvcSetView:           "svc_SetView",
	IDSvcFixAngle:          "svc_FixAngle",
	IDSvcCrosshairAngle:    "svc_CrosshairAngle",
	IDSvcBSPDecal:          "svc_BSPDecal",
	IDSvcSplitScreen:       "svc_SplitScreen",
	IDSvcUserMessage:       "svc_UserMessage",
	IDSvcEntityMessage:     "svc_EntityMessage",
	IDSvcGameEvent:         "svc_GameEvent",
	IDSvcPacketEntities:    "svc_PacketEntities",
	IDSvcTempEntities:      "svc_TempEntities",
	IDSvcPrefetch:          "svc_Prefetch",
	IDSvcMenu:              "svc_Menu",
	IDSvcGameEventList:     "svc_GameEventList",
	IDSvcGetCvarValue:      "svc_GetCvarValue",
	IDSvcCmdKeyValues:      "svc_CmdKeyValues",
	IDSvcPaintmapData:      "svc_PaintmapData",
	IDSvcEncryptedData:     "svc_EncryptedData",
	IDSvcHltvReplay:        "svc_HltvReplay",
}

// Message is one (id, size, body) NetMessage record. Body is the schema's
// canonical protobuf serialization, kept opaque except where a caller
// chooses to decode it further (e.g. wire/convars for the CONNECT body).
type Message struct {
	ID   uint32
	Body []byte
}

// IsNop reports whether this record is the id==0 NOP sentinel.
func (m Message) IsNop() bool { return m.ID == 0 }

// TypeName returns the schema's registered name for logging, or
// "unknown" if id isn't in the dispatch table.
func (m Message) TypeName() string {
	if name, ok := typeNames[m.ID]; ok {
		return name
	}
	return "unknown"
}

// FromBody constructs an outbound message from a raw encoded body.
func FromBody(id uint32, body []byte) Message {
	return Message{ID: id, Body: body}
}

// Bind decodes a wire record into a Message, validating id against the
// dispatch table. id==0 (NOP) always binds successfully with an empty
// body. An id outside the table returns *UnknownMessageError, which
// callers may treat as a recoverable per-frame condition (log and skip).
func Bind(id uint32, body []byte) (Message, error) {
	if id == 0 {
		return Message{ID: 0}, nil
	}
	if _, ok := typeNames[id]; !ok {
		return Message{}, &UnknownMessageError{ID: id}
	}
	return Message{ID: id, Body: body}, nil
}

// Encode emits varint32(id), varint32(len(body)), body to w.
func (m Message) Encode(w *bitio.Writer) error {
	if err := w.WriteVarint32(m.ID); err != nil {
		return err
	}
	if err := w.WriteVarint32(uint32(len(m.Body))); err != nil {
		return err
	}
	return w.WriteBytes(m.Body)
}

// Decode reads one (id, size, body) record from r; an id of 0 (NOP) is a
// bare id with no size or body following it. Calling Decode with zero
// remaining bits returns bitio.ErrShortRead, so callers check
// r.BitsRemaining() first to detect end-of-payload.
func Decode(r *bitio.Reader) (Message, error) {
	id, err := r.ReadVarint32()
	if err != nil {
		return Message{}, err
	}
	if id == 0 {
		return Message{ID: 0}, nil
	}
	size, err := r.ReadVarint32()
	if err != nil {
		return Message{}, err
	}
	body, err := r.ReadBytes(int(size))
	if err != nil {
		return Message{}, err
	}
	return Bind(id, body)
}

// ReadAll decodes every NetMessage record remaining in r, stopping at
// end-of-payload. Unknown ids are collected in unknownIDs rather than
// aborting the whole frame, so callers can log and move on.
func ReadAll(r *bitio.Reader) (messages []Message, unknownIDs []uint32, err error) {
	for r.BitsRemaining() > 0 {
		msg, derr := Decode(r)
		if derr != nil {
			var unk *UnknownMessageError
			if errors.As(derr, &unk) {
				unknownIDs = append(unknownIDs, unk.ID)
				continue
			}
			return messages, unknownIDs, derr
		}
		if msg.IsNop() {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, unknownIDs, nil
}
