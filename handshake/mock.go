package handshake

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// MockProvider is a test double for Provider: it succeeds immediately by
// default, or can be configured to fail the first N Hello calls to
// exercise Dialer's retry path.
type MockProvider struct {
	FailHelloCount int32

	Reservation Reservation
	AuthTicket  []byte
	SteamID     uint64

	helloAttempts int32
}

// Hello fails until FailHelloCount attempts have been consumed.
func (m *MockProvider) Hello(ctx context.Context) error {
	n := atomic.AddInt32(&m.helloAttempts, 1)
	if n <= m.FailHelloCount {
		return ErrHandshakeRejected
	}
	return nil
}

// RequestJoinServer returns the configured Reservation.
func (m *MockProvider) RequestJoinServer(ctx context.Context, hostVersion uint32, serverSteamID uint64, serverIP [4]byte, serverPort uint16) (Reservation, error) {
	return m.Reservation, nil
}

// GetAuthTicket returns the configured ticket.
func (m *MockProvider) GetAuthTicket(ctx context.Context) ([]byte, error) {
	return m.AuthTicket, nil
}

// GetSteamID returns the configured SteamID.
func (m *MockProvider) GetSteamID(ctx context.Context) (uint64, error) {
	return m.SteamID, nil
}

// mockFixture is the cbor wire shape for a scripted MockProvider, letting
// integration tests and devtools ship platform-response fixtures as data
// rather than Go literals.
type mockFixture struct {
	ReservationID  uint64 `cbor:"reservation_id"`
	ServerID       uint64 `cbor:"server_id"`
	AuthTicket     []byte `cbor:"auth_ticket"`
	SteamID        uint64 `cbor:"steam_id"`
	FailHelloCount int32  `cbor:"fail_hello_count"`
}

// LoadMockProviderFixture decodes a cbor-encoded fixture into a ready
// MockProvider.
func LoadMockProviderFixture(data []byte) (*MockProvider, error) {
	var f mockFixture
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("handshake: decoding mock fixture: %w", err)
	}
	return &MockProvider{
		FailHelloCount: f.FailHelloCount,
		Reservation:    Reservation{ReservationID: f.ReservationID, ServerID: f.ServerID},
		AuthTicket:     f.AuthTicket,
		SteamID:        f.SteamID,
	}, nil
}

// EncodeMockProviderFixture serializes m's scriptable fields to cbor, the
// inverse of LoadMockProviderFixture. Used by tests to author fixtures
// in-process instead of checking in binary blobs.
func EncodeMockProviderFixture(m *MockProvider) ([]byte, error) {
	f := mockFixture{
		ReservationID:  m.Reservation.ReservationID,
		ServerID:       m.Reservation.ServerID,
		AuthTicket:     m.AuthTicket,
		SteamID:        m.SteamID,
		FailHelloCount: m.FailHelloCount,
	}
	data, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("handshake: encoding mock fixture: %w", err)
	}
	return data, nil
}
