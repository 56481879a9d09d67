// Package session drives the full client-side handshake: the
// connectionless info/challenge exchange, the platform reservation and
// ticket exchange, the authenticated CONNECT packet, and the upgrade to
// an encrypted NetChannel.
package session

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/cipherleaf/senetchan/config"
	"github.com/cipherleaf/senetchan/handshake"
	"github.com/cipherleaf/senetchan/netudp"
	"github.com/cipherleaf/senetchan/wire/connectionless"
	"github.com/cipherleaf/senetchan/wire/convars"
)

// ErrUnexpectedReply is returned when a connectionless reply's tag does
// not match what the handshake step expected.
var ErrUnexpectedReply = errors.New("session: unexpected connectionless reply")

// ConnectionlessDialer drives the pre-NetChannel connectionless handshake
// over an already-dialed netudp.Conn.
type ConnectionlessDialer struct {
	conn   *netudp.Conn
	logger *log.Logger
}

// NewConnectionlessDialer wraps conn for the connectionless handshake.
func NewConnectionlessDialer(conn *netudp.Conn, logger *log.Logger) *ConnectionlessDialer {
	if logger == nil {
		logger = log.Default()
	}
	return &ConnectionlessDialer{conn: conn, logger: logger.WithPrefix("handshake.connectionless")}
}

func (d *ConnectionlessDialer) send(pkt interface{ Encode() ([]byte, error) }) error {
	data, err := pkt.Encode()
	if err != nil {
		return err
	}
	return d.conn.SendRaw(data)
}

func (d *ConnectionlessDialer) recv() (connectionless.Tag, []byte, error) {
	raw, err := d.conn.Recv()
	if err != nil {
		return 0, nil, err
	}
	tag, _, err := connectionless.ReadHeader(raw)
	if err != nil {
		return 0, nil, err
	}
	return tag, raw, nil
}

// QueryInfo sends A2S_INFO and returns the server's S2A_INFO_SRC reply.
// Failures here are logged and non-fatal to the overall handshake: server
// info is informational only.
func (d *ConnectionlessDialer) QueryInfo() (connectionless.S2AInfoSrc, error) {
	if err := d.send(connectionless.A2SInfo{}); err != nil {
		return connectionless.S2AInfoSrc{}, err
	}
	tag, raw, err := d.recv()
	if err != nil {
		return connectionless.S2AInfoSrc{}, err
	}
	if tag != connectionless.TagS2AInfoSrc {
		return connectionless.S2AInfoSrc{}, fmt.Errorf("%w: got tag 0x%02x, want S2A_INFO_SRC", ErrUnexpectedReply, byte(tag))
	}
	_, r, err := connectionless.ReadHeader(raw)
	if err != nil {
		return connectionless.S2AInfoSrc{}, err
	}
	return connectionless.DecodeS2AInfoSrc(r)
}

// Challenge runs the two-round A2S_GETCHALLENGE exchange:
// an initial request with cookie 0, then (if the server's context asks
// for a retry) a second request echoing the server's challenge number,
// returning the authoritative S2C_CHALLENGE to build CONNECT from.
func (d *ConnectionlessDialer) Challenge() (connectionless.S2CChallenge, error) {
	challenge, err := d.requestChallenge(0)
	if err != nil {
		return challenge, err
	}
	if challenge.ShouldRetry() {
		d.logger.Debug("server requested challenge retry", "challenge_num", challenge.ChallengeNum)
		challenge, err = d.requestChallenge(challenge.ChallengeNum)
		if err != nil {
			return challenge, err
		}
	}
	return challenge, nil
}

func (d *ConnectionlessDialer) requestChallenge(cookie uint32) (connectionless.S2CChallenge, error) {
	if err := d.send(connectionless.A2SGetChallenge{Cookie: cookie}); err != nil {
		return connectionless.S2CChallenge{}, err
	}
	tag, raw, err := d.recv()
	if err != nil {
		return connectionless.S2CChallenge{}, err
	}
	if tag != connectionless.TagS2CChallenge {
		return connectionless.S2CChallenge{}, fmt.Errorf("%w: got tag 0x%02x, want S2C_CHALLENGE", ErrUnexpectedReply, byte(tag))
	}
	_, r, err := connectionless.ReadHeader(raw)
	if err != nil {
		return connectionless.S2CChallenge{}, err
	}
	return connectionless.DecodeS2CChallenge(r)
}

// Connect sends the authenticated C2S_CONNECT packet.
func (d *ConnectionlessDialer) Connect(pkt connectionless.C2SConnect) error {
	return d.send(pkt)
}

// BuildConnect assembles the C2S_CONNECT body from the resolved
// challenge, platform reservation, and config. The cl_session convar
// carries the reservation id in hex, proving the platform authorized
// this join.
func BuildConnect(cfg *config.Config, challenge connectionless.S2CChallenge, reservation handshake.Reservation, steamID uint64, authTicket []byte) connectionless.C2SConnect {
	cvars := convars.CMsgCVars{
		CVars: []convars.CVar{
			{Name: "cl_session", Value: fmt.Sprintf("%#x", reservation.ReservationID)},
		},
	}
	for name, value := range cfg.Player.CVars {
		cvars.CVars = append(cvars.CVars, convars.CVar{Name: name, Value: value})
	}

	return connectionless.C2SConnect{
		HostVersion:    cfg.Platform.HostVersion,
		AuthProtocol:   connectionless.AuthProtocolSteam,
		ChallengeNum:   challenge.ChallengeNum,
		PlayerName:     cfg.Player.Name,
		ServerPassword: cfg.Server.Password,
		SplitPlayerConnects: []convars.SplitPlayerConnect{
			{ConVars: cvars},
		},
		LowViolence: cfg.Player.LowViolence,
		LobbyCookie: reservation.ReservationID,
		AuthInfo: connectionless.SteamAuthInfo{
			SteamID:    steamID,
			AuthTicket: authTicket,
		},
	}
}
