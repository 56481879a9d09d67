package netudp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendRecvLoopback(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer server.Close()

	clientAddr := server.LocalAddr().(*net.UDPAddr)
	conn, err := Dial(clientAddr, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendRaw([]byte("hello")))

	buf := make([]byte, NetMaxPayload)
	n, from, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	_, err = server.WriteToUDP([]byte("world"), from)
	require.NoError(t, err)

	got, err := conn.Recv()
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
	require.Equal(t, "world", string(conn.Last()))
}
