package session

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cipherleaf/senetchan/wire/connectionless"
)

// serverScript is the cbor wire shape for a scripted mock server's
// handshake replies, letting the end-to-end handshake test author its
// fixture as data instead of constructing connectionless packets as Go
// literals by hand.
type serverScript struct {
	Info       infoFixture        `cbor:"info"`
	Challenges []challengeFixture `cbor:"challenges"`
}

type infoFixture struct {
	HostName string `cbor:"host_name"`
	MapName  string `cbor:"map_name"`
	ModName  string `cbor:"mod_name"`
	GameName string `cbor:"game_name"`
}

type challengeFixture struct {
	ChallengeNum      uint32 `cbor:"challenge_num"`
	ContextResponse   string `cbor:"context_response"`
	GameServerSteamID uint64 `cbor:"game_server_steam_id"`
}

// LoadServerScript decodes a cbor-encoded serverScript fixture into the
// S2AInfoSrc and ordered S2CChallenge replies a mock server should play
// back.
func LoadServerScript(data []byte) (connectionless.S2AInfoSrc, []connectionless.S2CChallenge, error) {
	var s serverScript
	if err := cbor.Unmarshal(data, &s); err != nil {
		return connectionless.S2AInfoSrc{}, nil, fmt.Errorf("session: decoding server script fixture: %w", err)
	}

	info := connectionless.S2AInfoSrc{
		HostName: s.Info.HostName,
		MapName:  s.Info.MapName,
		ModName:  s.Info.ModName,
		GameName: s.Info.GameName,
	}

	challenges := make([]connectionless.S2CChallenge, len(s.Challenges))
	for i, c := range s.Challenges {
		challenges[i] = connectionless.S2CChallenge{
			ChallengeNum:      c.ChallengeNum,
			ContextResponse:   c.ContextResponse,
			GameServerSteamID: c.GameServerSteamID,
		}
	}
	return info, challenges, nil
}

// EncodeServerScript serializes info and challenges to cbor, the inverse
// of LoadServerScript.
func EncodeServerScript(info connectionless.S2AInfoSrc, challenges []connectionless.S2CChallenge) ([]byte, error) {
	s := serverScript{
		Info: infoFixture{
			HostName: info.HostName,
			MapName:  info.MapName,
			ModName:  info.ModName,
			GameName: info.GameName,
		},
	}
	for _, c := range challenges {
		s.Challenges = append(s.Challenges, challengeFixture{
			ChallengeNum:      c.ChallengeNum,
			ContextResponse:   c.ContextResponse,
			GameServerSteamID: c.GameServerSteamID,
		})
	}
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: encoding server script fixture: %w", err)
	}
	return data, nil
}
