// Package connectionless implements the Source Engine's pre-upgrade
// packet layer: a tagged union of small fixed-layout messages prefixed
// by the 4-byte 0xFFFFFFFF connectionless header, used for the
// info/challenge/connect handshake before a NetChannel exists.
package connectionless

import (
	"errors"
	"fmt"

	"github.com/cipherleaf/senetchan/bitio"
	"github.com/cipherleaf/senetchan/wire/convars"
)

// Header is the 4-byte little-endian sentinel that precedes every
// connectionless packet's type tag.
const Header uint32 = 0xFFFFFFFF

// Tag identifies the connectionless packet type.
type Tag byte

const (
	TagInvalid         Tag = 0
	TagA2AAck          Tag = 0x6A
	TagA2APing         Tag = 0x69
	TagA2SInfo         Tag = 0x54
	TagS2AInfoSrc      Tag = 0x49
	TagA2SGetChallenge Tag = 0x71
	TagS2CChallenge    Tag = 0x41
	TagC2SConnect      Tag = 'k'
	TagS2CConnection   Tag = 0x42
)

// ErrMalformedHeader is returned when the leading 4 bytes are not the
// connectionless sentinel.
var ErrMalformedHeader = errors.New("connectionless: invalid 0xFFFFFFFF header")

// ReadHeader validates the connectionless preamble and returns the
// packet's type tag plus a reader positioned at the start of the body.
func ReadHeader(data []byte) (Tag, *bitio.Reader, error) {
	r := bitio.NewReader(data)
	header, err := r.ReadLong()
	if err != nil {
		return 0, nil, err
	}
	if header != Header {
		return 0, nil, ErrMalformedHeader
	}
	tagByte, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	return Tag(tagByte), r, nil
}

// writeHeader emits the preamble and tag shared by every connectionless
// packet.
func writeHeader(w *bitio.Writer, tag Tag) error {
	if err := w.WriteLong(Header); err != nil {
		return err
	}
	return w.WriteByte(byte(tag))
}

// A2APing is the empty keepalive probe either side may send.
type A2APing struct{}

// Encode serializes an A2A_PING packet.
func (A2APing) Encode() ([]byte, error) {
	w := bitio.NewWriter()
	if err := writeHeader(w, TagA2APing); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// A2AAck is the empty reply to A2A_PING.
type A2AAck struct{}

// Encode serializes an A2A_ACK packet.
func (A2AAck) Encode() ([]byte, error) {
	w := bitio.NewWriter()
	if err := writeHeader(w, TagA2AAck); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// S2CConnection is the server's bare connection acknowledgement; it
// carries nothing beyond its tag.
type S2CConnection struct{}

// Encode serializes an S2C_CONNECTION packet.
func (S2CConnection) Encode() ([]byte, error) {
	w := bitio.NewWriter()
	if err := writeHeader(w, TagS2CConnection); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// A2SInfo is the client's server-info query.
type A2SInfo struct{}

// Encode serializes an A2S_INFO packet.
func (A2SInfo) Encode() ([]byte, error) {
	w := bitio.NewWriter()
	if err := writeHeader(w, TagA2SInfo); err != nil {
		return nil, err
	}
	if err := w.WriteString("Source Engine Query"); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// S2AInfoSrc is the server's reply to A2S_INFO.
type S2AInfoSrc struct {
	Protocol    byte
	HostName    string
	MapName     string
	ModName     string
	GameName    string
	AppID       uint16
	NumPlayers  byte
	MaxPlayers  byte
	NumBots     byte
	ServerType  byte
	HostOS      byte
	HasPassword byte
	IsSecure    byte
	Version     string
}

// DecodeS2AInfoSrc parses the S2A_INFO_SRC body from r (positioned just
// after the tag byte).
func DecodeS2AInfoSrc(r *bitio.Reader) (S2AInfoSrc, error) {
	var p S2AInfoSrc
	var err error
	if p.Protocol, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.HostName, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.MapName, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.ModName, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.GameName, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.AppID, err = r.ReadWord(); err != nil {
		return p, err
	}
	if p.NumPlayers, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.MaxPlayers, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.NumBots, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.ServerType, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.HostOS, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.HasPassword, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.IsSecure, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.Version, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

// Encode serializes an S2A_INFO_SRC packet. Used by server-side test
// doubles; a real client only ever decodes this reply.
func (p S2AInfoSrc) Encode() ([]byte, error) {
	w := bitio.NewWriter()
	if err := writeHeader(w, TagS2AInfoSrc); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.Protocol); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.HostName); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.MapName); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.ModName); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.GameName); err != nil {
		return nil, err
	}
	if err := w.WriteWord(p.AppID); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.NumPlayers); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.MaxPlayers); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.NumBots); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.ServerType); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.HostOS); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.HasPassword); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.IsSecure); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.Version); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// A2SGetChallenge is the client's challenge request, carrying an echoed
// cookie once the server has issued one.
type A2SGetChallenge struct {
	Cookie uint32
}

// Encode serializes an A2S_GETCHALLENGE packet.
func (p A2SGetChallenge) Encode() ([]byte, error) {
	w := bitio.NewWriter()
	if err := writeHeader(w, TagA2SGetChallenge); err != nil {
		return nil, err
	}
	s := fmt.Sprintf("connect0x%08x", p.Cookie)
	if err := w.WriteString(s); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// AuthProtocol identifies the authentication scheme negotiated in
// S2C_CHALLENGE / C2S_CONNECT.
type AuthProtocol uint32

const (
	AuthProtocolUnused      AuthProtocol = 0x01
	AuthProtocolHashedCDKey AuthProtocol = 0x02
	AuthProtocolSteam       AuthProtocol = 0x03
)

// S2CChallenge is the server's challenge response.
type S2CChallenge struct {
	ChallengeNum       uint32
	AuthProtocol       AuthProtocol
	Steam2EncEnabled   uint16
	GameServerSteamID  uint64
	VACSecured         byte
	ContextResponse    string
	HostVersion        uint32
	LobbyType          string
	PasswordRequired   byte
	LobbyID            uint64
	FriendsRequired    byte
	ValveDS            byte
	RequireCertificate byte
}

// DecodeS2CChallenge parses the S2C_CHALLENGE body from r.
func DecodeS2CChallenge(r *bitio.Reader) (S2CChallenge, error) {
	var p S2CChallenge
	var err error
	if p.ChallengeNum, err = r.ReadLong(); err != nil {
		return p, err
	}
	proto, err := r.ReadLong()
	if err != nil {
		return p, err
	}
	p.AuthProtocol = AuthProtocol(proto)
	if p.Steam2EncEnabled, err = r.ReadWord(); err != nil {
		return p, err
	}
	if p.GameServerSteamID, err = r.ReadLongLong(); err != nil {
		return p, err
	}
	if p.VACSecured, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.ContextResponse, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.HostVersion, err = r.ReadLong(); err != nil {
		return p, err
	}
	if p.LobbyType, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.PasswordRequired, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.LobbyID, err = r.ReadLongLong(); err != nil {
		return p, err
	}
	if p.FriendsRequired, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.ValveDS, err = r.ReadByte(); err != nil {
		return p, err
	}
	if p.RequireCertificate, err = r.ReadByte(); err != nil {
		return p, err
	}
	return p, nil
}

// Encode serializes an S2C_CHALLENGE packet. Used by server-side test
// doubles; a real client only ever decodes this reply.
func (p S2CChallenge) Encode() ([]byte, error) {
	w := bitio.NewWriter()
	if err := writeHeader(w, TagS2CChallenge); err != nil {
		return nil, err
	}
	if err := w.WriteLong(p.ChallengeNum); err != nil {
		return nil, err
	}
	if err := w.WriteLong(uint32(p.AuthProtocol)); err != nil {
		return nil, err
	}
	if err := w.WriteWord(p.Steam2EncEnabled); err != nil {
		return nil, err
	}
	if err := w.WriteLongLong(p.GameServerSteamID); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.VACSecured); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.ContextResponse); err != nil {
		return nil, err
	}
	if err := w.WriteLong(p.HostVersion); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.LobbyType); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.PasswordRequired); err != nil {
		return nil, err
	}
	if err := w.WriteLongLong(p.LobbyID); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.FriendsRequired); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.ValveDS); err != nil {
		return nil, err
	}
	if err := w.WriteByte(p.RequireCertificate); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ShouldRetry reports whether the client must resend A2S_GETCHALLENGE
// with this challenge's cookie before proceeding to CONNECT.
func (p S2CChallenge) ShouldRetry() bool {
	return p.ContextResponse == "connect-retry"
}

// CrossplayPlatform identifies the client's platform for matchmaking.
type CrossplayPlatform byte

const (
	CrossplayUnknown CrossplayPlatform = iota
	CrossplayPC
	CrossplayX360
	CrossplayPS3
)

// SteamAuthInfo carries the platform-issued session ticket.
type SteamAuthInfo struct {
	SteamID    uint64
	AuthTicket []byte
}

// C2SConnect is the authenticated connect request, carrying user convars
// and the platform auth ticket.
type C2SConnect struct {
	HostVersion         uint32
	AuthProtocol        AuthProtocol
	ChallengeNum        uint32
	PlayerName          string
	ServerPassword      string
	SplitPlayerConnects []convars.SplitPlayerConnect
	LowViolence         bool
	LobbyCookie         uint64
	CrossplayPlatform   CrossplayPlatform
	EncryptionKeyIndex  uint32
	AuthInfo            SteamAuthInfo
}

// Encode serializes a C2S_CONNECT packet. The single low_violence bit
// leaves everything after it unaligned; a trailing 7 zero bits realign
// the frame to a byte boundary.
func (p C2SConnect) Encode() ([]byte, error) {
	if len(p.SplitPlayerConnects) > 0xFF {
		return nil, fmt.Errorf("connectionless: too many split-screen players: %d", len(p.SplitPlayerConnects))
	}

	w := bitio.NewWriter()
	if err := writeHeader(w, TagC2SConnect); err != nil {
		return nil, err
	}
	if err := w.WriteLong(p.HostVersion); err != nil {
		return nil, err
	}
	if err := w.WriteLong(uint32(p.AuthProtocol)); err != nil {
		return nil, err
	}
	if err := w.WriteLong(p.ChallengeNum); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.PlayerName); err != nil {
		return nil, err
	}
	if err := w.WriteString(p.ServerPassword); err != nil {
		return nil, err
	}
	if err := w.WriteByte(byte(len(p.SplitPlayerConnects))); err != nil {
		return nil, err
	}

	for _, spc := range p.SplitPlayerConnects {
		if err := w.WriteVarint32(0); err != nil {
			return nil, err
		}
		encoded := spc.Marshal()
		if err := w.WriteVarint32(uint32(len(encoded))); err != nil {
			return nil, err
		}
		if err := w.WriteBytes(encoded); err != nil {
			return nil, err
		}
	}

	w.WriteBit(p.LowViolence)
	if err := w.WriteLongLong(p.LobbyCookie); err != nil {
		return nil, err
	}
	if err := w.WriteByte(byte(p.CrossplayPlatform)); err != nil {
		return nil, err
	}
	if err := w.WriteLong(p.EncryptionKeyIndex); err != nil {
		return nil, err
	}

	if err := w.WriteWord(uint16(len(p.AuthInfo.AuthTicket)) + 8); err != nil {
		return nil, err
	}
	if err := w.WriteLongLong(p.AuthInfo.SteamID); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(p.AuthInfo.AuthTicket); err != nil {
		return nil, err
	}

	for i := 0; i < 7; i++ {
		w.WriteBit(false)
	}

	return w.Bytes(), nil
}
