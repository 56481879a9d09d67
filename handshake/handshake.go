// Package handshake defines the platform game-coordinator/auth service as
// a black-box collaborator: reserving a server join and minting an auth
// ticket. The protocol underneath is never implemented here, only the
// shape of the calls the NetChannel handshake needs.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// ErrHandshakeRejected is returned when the platform never completes its
// own hello handshake within the retry budget.
var ErrHandshakeRejected = errors.New("handshake: platform hello rejected or timed out")

// ErrAuthFailed is returned when the platform cannot mint an auth ticket
// for the current session.
var ErrAuthFailed = errors.New("handshake: failed to obtain auth ticket")

// Reservation is the result of a successful RequestJoinServer call: the
// platform's authorization to join a specific game server.
type Reservation struct {
	ReservationID uint64
	DirectUDPIP   [4]byte
	DirectUDPPort uint16
	ServerID      uint64
}

// Provider is the platform game-coordinator/auth collaborator.
type Provider interface {
	// Hello performs the platform's own login/hello handshake. Callers
	// should retry internally (see Dialer.Connect) rather than assume
	// Provider does.
	Hello(ctx context.Context) error
	// RequestJoinServer asks the platform to authorize a join to the
	// server identified by serverSteamID at serverIP:serverPort, given the
	// client's reported hostVersion.
	RequestJoinServer(ctx context.Context, hostVersion uint32, serverSteamID uint64, serverIP [4]byte, serverPort uint16) (Reservation, error)
	// GetAuthTicket returns an opaque session ticket to embed in the
	// CONNECT packet's SteamAuthInfo.
	GetAuthTicket(ctx context.Context) ([]byte, error)
	// GetSteamID returns the platform identity of the logged-in user.
	GetSteamID(ctx context.Context) (uint64, error)
}

// Dialer wraps a Provider with a bounded-retry hello handshake; the
// platform sometimes takes a few tries to warm up after login.
type Dialer struct {
	provider Provider
	logger   *log.Logger

	// Attempts bounds how many times Hello is retried before giving up.
	Attempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// NewDialer wraps provider with the default retry budget.
func NewDialer(provider Provider, logger *log.Logger) *Dialer {
	if logger == nil {
		logger = log.Default()
	}
	return &Dialer{
		provider:   provider,
		logger:     logger.WithPrefix("handshake"),
		Attempts:   10,
		RetryDelay: time.Second,
	}
}

// Connect performs the platform hello handshake, retrying up to
// d.Attempts times with d.RetryDelay between tries.
func (d *Dialer) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= d.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.RetryDelay)
		err := d.provider.Hello(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Debug("platform hello attempt failed", "attempt", attempt, "error", err)

		if attempt == d.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrHandshakeRejected, ctx.Err())
		case <-time.After(d.RetryDelay):
		}
	}
	return fmt.Errorf("%w: %v", ErrHandshakeRejected, lastErr)
}

// RequestJoinServer delegates to the wrapped Provider.
func (d *Dialer) RequestJoinServer(ctx context.Context, hostVersion uint32, serverSteamID uint64, serverIP [4]byte, serverPort uint16) (Reservation, error) {
	return d.provider.RequestJoinServer(ctx, hostVersion, serverSteamID, serverIP, serverPort)
}

// GetAuthTicket delegates to the wrapped Provider, wrapping a nil/empty
// ticket as ErrAuthFailed.
func (d *Dialer) GetAuthTicket(ctx context.Context) ([]byte, error) {
	ticket, err := d.provider.GetAuthTicket(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if len(ticket) == 0 {
		return nil, ErrAuthFailed
	}
	return ticket, nil
}

// GetSteamID delegates to the wrapped Provider.
func (d *Dialer) GetSteamID(ctx context.Context) (uint64, error) {
	return d.provider.GetSteamID(ctx)
}
