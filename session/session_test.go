package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cipherleaf/senetchan/config"
	"github.com/cipherleaf/senetchan/handshake"
	"github.com/cipherleaf/senetchan/wire/connectionless"
)

func TestSessionConnectUpgradesToNetChannel(t *testing.T) {
	server := newMockServer(t)
	defer server.sock.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.Equal(t, connectionless.TagA2SInfo, server.recvTag(t))
		server.reply(t, connectionless.S2AInfoSrc{HostName: "test"})

		require.Equal(t, connectionless.TagA2SGetChallenge, server.recvTag(t))
		server.reply(t, connectionless.S2CChallenge{
			ChallengeNum: 0xDEADBEEF, ContextResponse: "connect0xdeadbeef", GameServerSteamID: 999,
		})

		require.Equal(t, connectionless.TagC2SConnect, server.recvTag(t))
	}()

	cfg := &config.Config{
		Server:   config.Server{Address: server.addr().String()},
		Player:   config.Player{Name: "ripper"},
		Platform: config.Platform{HostVersion: 13851648},
	}

	sess, err := Dial(cfg, nil)
	require.NoError(t, err)
	sess.KeepaliveInterval = time.Hour
	defer sess.Close()

	provider := &handshake.MockProvider{
		Reservation: handshake.Reservation{ReservationID: 0xCAFEBABE},
		AuthTicket:  []byte{1, 2, 3, 4},
		SteamID:     76561197960287930,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nc, err := sess.Connect(ctx, provider)
	require.NoError(t, err)
	require.NotNil(t, nc)

	<-done
}

func TestSessionDialRejectsBadAddress(t *testing.T) {
	cfg := &config.Config{Server: config.Server{Address: "not-an-address"}}
	_, err := cfg.ResolveUDPAddr()
	require.Error(t, err)
}

func TestSessionDialUsesConfigAddress(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer server.Close()

	cfg := &config.Config{Server: config.Server{Address: server.LocalAddr().String()}}
	sess, err := Dial(cfg, nil)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.conn.SendRaw([]byte("x")))
}
