package connectionless

import (
	"testing"

	"github.com/cipherleaf/senetchan/bitio"
	"github.com/cipherleaf/senetchan/wire/convars"
	"github.com/stretchr/testify/require"
)

func TestA2SInfoEncodeTag(t *testing.T) {
	data, err := A2SInfo{}.Encode()
	require.NoError(t, err)

	tag, r, err := ReadHeader(data)
	require.NoError(t, err)
	require.Equal(t, TagA2SInfo, tag)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "Source Engine Query", s)
}

func TestEmptyBodiedPackets(t *testing.T) {
	cases := []struct {
		pkt  interface{ Encode() ([]byte, error) }
		want Tag
	}{
		{A2APing{}, TagA2APing},
		{A2AAck{}, TagA2AAck},
		{S2CConnection{}, TagS2CConnection},
	}
	for _, c := range cases {
		data, err := c.pkt.Encode()
		require.NoError(t, err)

		tag, r, err := ReadHeader(data)
		require.NoError(t, err)
		require.Equal(t, c.want, tag)
		require.Equal(t, 0, r.BitsRemaining())
	}
}

func TestA2SGetChallengeDefaultCookie(t *testing.T) {
	data, err := A2SGetChallenge{}.Encode()
	require.NoError(t, err)

	tag, r, err := ReadHeader(data)
	require.NoError(t, err)
	require.Equal(t, TagA2SGetChallenge, tag)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "connect0x00000000", s)
}

func TestA2SGetChallengeWithCookie(t *testing.T) {
	data, err := A2SGetChallenge{Cookie: 0xDEADBEEF}.Encode()
	require.NoError(t, err)

	_, r, err := ReadHeader(data)
	require.NoError(t, err)
	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "connect0xdeadbeef", s)
}

func buildS2AInfoSrc(w *bitio.Writer, p S2AInfoSrc) {
	_ = w.WriteByte(p.Protocol)
	_ = w.WriteString(p.HostName)
	_ = w.WriteString(p.MapName)
	_ = w.WriteString(p.ModName)
	_ = w.WriteString(p.GameName)
	_ = w.WriteWord(p.AppID)
	_ = w.WriteByte(p.NumPlayers)
	_ = w.WriteByte(p.MaxPlayers)
	_ = w.WriteByte(p.NumBots)
	_ = w.WriteByte(p.ServerType)
	_ = w.WriteByte(p.HostOS)
	_ = w.WriteByte(p.HasPassword)
	_ = w.WriteByte(p.IsSecure)
	_ = w.WriteString(p.Version)
}

func TestDecodeS2AInfoSrc(t *testing.T) {
	want := S2AInfoSrc{
		Protocol: 17, HostName: "my server", MapName: "de_dust2",
		ModName: "cstrike", GameName: "csgo", AppID: 730,
		NumPlayers: 5, MaxPlayers: 10, NumBots: 0,
		ServerType: 'd', HostOS: 'l', HasPassword: 0, IsSecure: 1,
		Version: "1.38.1.0",
	}
	w := bitio.NewWriter()
	buildS2AInfoSrc(w, want)

	got, err := DecodeS2AInfoSrc(bitio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func buildS2CChallenge(w *bitio.Writer, p S2CChallenge) {
	_ = w.WriteLong(p.ChallengeNum)
	_ = w.WriteLong(uint32(p.AuthProtocol))
	_ = w.WriteWord(p.Steam2EncEnabled)
	_ = w.WriteLongLong(p.GameServerSteamID)
	_ = w.WriteByte(p.VACSecured)
	_ = w.WriteString(p.ContextResponse)
	_ = w.WriteLong(p.HostVersion)
	_ = w.WriteString(p.LobbyType)
	_ = w.WriteByte(p.PasswordRequired)
	_ = w.WriteLongLong(p.LobbyID)
	_ = w.WriteByte(p.FriendsRequired)
	_ = w.WriteByte(p.ValveDS)
	_ = w.WriteByte(p.RequireCertificate)
}

func TestDecodeS2CChallengeAndRetry(t *testing.T) {
	want := S2CChallenge{
		ChallengeNum: 0xDEADBEEF, AuthProtocol: AuthProtocolSteam,
		ContextResponse: "connect-retry", HostVersion: 13963,
		LobbyType: "public",
	}
	w := bitio.NewWriter()
	buildS2CChallenge(w, want)

	got, err := DecodeS2CChallenge(bitio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, got.ShouldRetry())

	want.ContextResponse = "connect0xdeadbeef"
	w2 := bitio.NewWriter()
	buildS2CChallenge(w2, want)
	got2, err := DecodeS2CChallenge(bitio.NewReader(w2.Bytes()))
	require.NoError(t, err)
	require.False(t, got2.ShouldRetry())
}

func TestC2SConnectEncodeLayout(t *testing.T) {
	p := C2SConnect{
		HostVersion:    13963,
		AuthProtocol:   AuthProtocolSteam,
		ChallengeNum:   0xDEADBEEF,
		PlayerName:     "player1",
		ServerPassword: "",
		SplitPlayerConnects: []convars.SplitPlayerConnect{
			{ConVars: convars.CMsgCVars{CVars: []convars.CVar{{Name: "rate", Value: "128000"}}}},
		},
		LowViolence:        false,
		LobbyCookie:        0,
		CrossplayPlatform:  CrossplayPC,
		EncryptionKeyIndex: 0,
		AuthInfo: SteamAuthInfo{
			SteamID:    76561197960287930,
			AuthTicket: []byte{1, 2, 3, 4},
		},
	}

	data, err := p.Encode()
	require.NoError(t, err)

	tag, r, err := ReadHeader(data)
	require.NoError(t, err)
	require.Equal(t, TagC2SConnect, tag)

	hostVersion, err := r.ReadLong()
	require.NoError(t, err)
	require.Equal(t, p.HostVersion, hostVersion)

	authProto, err := r.ReadLong()
	require.NoError(t, err)
	require.Equal(t, uint32(AuthProtocolSteam), authProto)

	challenge, err := r.ReadLong()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), challenge)

	playerName, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "player1", playerName)

	serverPassword, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "", serverPassword)

	numPlayers, err := r.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(1), numPlayers)

	zero, err := r.ReadVarint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0), zero)

	length, err := r.ReadVarint32()
	require.NoError(t, err)
	blob, err := r.ReadBytes(int(length))
	require.NoError(t, err)
	spc, err := convars.UnmarshalSplitPlayerConnect(blob)
	require.NoError(t, err)
	require.Equal(t, p.SplitPlayerConnects[0], spc)

	lowViolence, err := r.ReadBit()
	require.NoError(t, err)
	require.False(t, lowViolence)

	lobbyCookie, err := r.ReadLongLong()
	require.NoError(t, err)
	require.Equal(t, uint64(0), lobbyCookie)

	platform, err := r.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(CrossplayPC), platform)

	encIdx, err := r.ReadLong()
	require.NoError(t, err)
	require.Equal(t, uint32(0), encIdx)

	ticketLenPlus8, err := r.ReadWord()
	require.NoError(t, err)
	require.Equal(t, uint16(12), ticketLenPlus8)

	steamID, err := r.ReadLongLong()
	require.NoError(t, err)
	require.Equal(t, p.AuthInfo.SteamID, steamID)

	ticket, err := r.ReadBytes(4)
	require.NoError(t, err)
	require.Equal(t, p.AuthInfo.AuthTicket, ticket)

	pad, err := r.ReadUint(7)
	require.NoError(t, err)
	require.Equal(t, uint64(0), pad)

	require.True(t, r.ByteAligned())
	require.Equal(t, 0, r.BitsRemaining())
}
