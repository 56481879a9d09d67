package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/awnumar/memguard"
	"github.com/charmbracelet/log"

	"github.com/cipherleaf/senetchan/config"
	"github.com/cipherleaf/senetchan/handshake"
	"github.com/cipherleaf/senetchan/internal/timerqueue"
	"github.com/cipherleaf/senetchan/internal/worker"
	"github.com/cipherleaf/senetchan/netchannel"
	"github.com/cipherleaf/senetchan/netudp"
)

// KeepaliveInterval is how often Session sends a NOP datagram to keep the
// NetChannel's sequence state alive while idle.
const KeepaliveInterval = 20 * time.Second

// Session ties together the connectionless handshake, the platform
// reservation/ticket exchange, and the established NetChannel, for the
// lifetime of one connection to one server.
type Session struct {
	worker.Worker

	cfg      *config.Config
	platform *handshake.Dialer
	conn     *netudp.Conn
	nc       *netchannel.NetChannel
	logger   *log.Logger

	keepalive *timerqueue.TimerQueue

	// authTicket is held in locked memory for the session's lifetime and
	// wiped on Close.
	authTicket *memguard.LockedBuffer

	// KeepaliveInterval overrides the default NOP cadence; tests shorten
	// it to avoid a real-time wait.
	KeepaliveInterval time.Duration
}

// Dial resolves cfg's server address, opens the UDP socket, and returns a
// Session ready for Connect.
func Dial(cfg *config.Config, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.Default()
	}
	addr, err := cfg.ResolveUDPAddr()
	if err != nil {
		return nil, err
	}
	conn, err := netudp.Dial(addr, logger)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:               cfg,
		conn:              conn,
		logger:            logger.WithPrefix("session"),
		KeepaliveInterval: KeepaliveInterval,
	}, nil
}

// Connect performs the platform handshake, the connectionless
// info/challenge/connect exchange, and upgrades the connection to an
// encrypted NetChannel.
func (s *Session) Connect(ctx context.Context, provider handshake.Provider) (*netchannel.NetChannel, error) {
	s.platform = handshake.NewDialer(provider, s.logger)
	if err := s.platform.Connect(ctx); err != nil {
		return nil, fmt.Errorf("session: platform handshake: %w", err)
	}

	cl := NewConnectionlessDialer(s.conn, s.logger)

	if info, err := cl.QueryInfo(); err != nil {
		s.logger.Warn("A2S_INFO query failed, continuing without it", "error", err)
	} else {
		s.logger.Debug("server info", "host", info.HostName, "map", info.MapName)
	}

	challenge, err := cl.Challenge()
	if err != nil {
		return nil, fmt.Errorf("session: challenge exchange: %w", err)
	}

	var serverIP [4]byte
	var serverPort uint16
	if udpAddr, ok := s.conn.RemoteAddr().(*net.UDPAddr); ok {
		if v4 := udpAddr.IP.To4(); v4 != nil {
			copy(serverIP[:], v4)
		}
		serverPort = uint16(udpAddr.Port)
	}

	reservation, err := s.platform.RequestJoinServer(ctx, s.cfg.Platform.HostVersion, challenge.GameServerSteamID, serverIP, serverPort)
	if err != nil {
		return nil, fmt.Errorf("session: join server reservation: %w", err)
	}

	ticket, err := s.platform.GetAuthTicket(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: auth ticket: %w", err)
	}
	s.authTicket = memguard.NewBufferFromBytes(ticket)

	steamID, err := s.platform.GetSteamID(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: steam id: %w", err)
	}

	connectPkt := BuildConnect(s.cfg, challenge, reservation, steamID, s.authTicket.Bytes())
	if err := cl.Connect(connectPkt); err != nil {
		return nil, fmt.Errorf("session: sending CONNECT: %w", err)
	}

	nc, err := netchannel.New(s.conn, s.cfg.Platform.HostVersion, s.logger)
	if err != nil {
		return nil, fmt.Errorf("session: netchannel upgrade: %w", err)
	}
	s.nc = nc

	s.keepalive = timerqueue.NewTimerQueue(func(interface{}) {
		if err := s.nc.WriteNop(); err != nil {
			s.logger.Debug("keepalive NOP failed", "error", err)
			return
		}
		s.scheduleKeepalive()
	})
	s.keepalive.Start()
	s.scheduleKeepalive()

	return nc, nil
}

func (s *Session) scheduleKeepalive() {
	deadline := uint64(time.Now().Add(s.KeepaliveInterval).UnixNano())
	s.keepalive.Push(deadline, nil)
}

// Close tears down the keepalive ticker, wipes the locked auth-ticket
// buffer, and closes the underlying socket.
func (s *Session) Close() error {
	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive.Wait()
	}
	if s.authTicket != nil {
		s.authTicket.Destroy()
	}
	return s.conn.Close()
}
