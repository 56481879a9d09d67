// Package netchannel implements the encrypted, sequenced, reliable
// NetChannel that a connectionless handshake upgrades to: datagram
// framing, the ICE encryption envelope, sequence/checksum validation,
// subchannel-driven reliable fragment reassembly, and the NetMessage
// read loop multiplexed inside each payload.
package netchannel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/awnumar/memguard"
	"github.com/charmbracelet/log"

	"github.com/cipherleaf/senetchan/bitio"
	"github.com/cipherleaf/senetchan/ice"
	"github.com/cipherleaf/senetchan/lzss"
	"github.com/cipherleaf/senetchan/netudp"
	"github.com/cipherleaf/senetchan/subchannel"
	"github.com/cipherleaf/senetchan/wire/netmsg"
)

// Wire sentinels, carried in the sequence field of a NetChannel packet
// in place of an ordinary sequence number.
const (
	SequenceSplit          uint32 = 0xFFFFFFFE
	SequenceCompressed     uint32 = 0xFFFFFFFD
	SequenceConnectionless uint32 = 0xFFFFFFFF

	flagReliable byte = 1 << 0
	flagChoked   byte = 1 << 4

	numSubchannelSlots = 8
	numStreamsPerSlot  = 2
)

var (
	ErrAlignment         = errors.New("netchannel: datagram length not a multiple of 8")
	ErrUnsupportedFrame  = errors.New("netchannel: split or connectionless frame on netchannel")
	ErrInvalidPadding    = errors.New("netchannel: invalid ICE envelope padding")
	ErrInvalidWireSize   = errors.New("netchannel: declared wire size exceeds remaining bytes")
	ErrSequenceViolation = errors.New("netchannel: duplicate or reordered sequence number")
	ErrChecksumMismatch  = errors.New("netchannel: checksum verification failed")

	// ErrOutboundUnsupported is returned by SendReliable: the channel
	// receives reliable subchannel data but never fragments its own.
	ErrOutboundUnsupported = errors.New("netchannel: outbound reliable subchannels not supported")
)

// Header is the parsed NetChannel packet header present on every
// received datagram.
type Header struct {
	InSequence    uint32
	InAck         uint32
	Reliable      bool
	Choked        bool
	ChokedCount   byte
	ReliableState byte
	SubchannelIdx byte
}

// Datagram is one fully-processed received NetChannel frame.
type Datagram struct {
	Header   Header
	Messages []netmsg.Message
	// FilesReceived holds any file-stream payloads completed by this
	// frame's subchannel fragment. The channel only frames them; what to
	// do with the bytes (write to disk, demo parsing) is the caller's.
	FilesReceived [][]byte
}

type subchannelSlot [numStreamsPerSlot]*subchannel.SubChannel

// NetChannel owns the single ICE key, sequence counters, and the eight
// reliable-subchannel slots for one session's lifetime.
type NetChannel struct {
	cipher *ice.Cipher
	conn   *netudp.Conn
	logger *log.Logger

	// VerifyChecksum enables the receive-side checksum check. It defaults
	// on; a mismatch rejects the frame, not the session.
	VerifyChecksum bool

	inSequence     uint32
	haveInSequence bool
	outSequence    uint32
	outAck         uint32
	chokedNum      byte
	reliableState  byte

	slots [numSubchannelSlots]subchannelSlot
}

// New constructs a NetChannel over conn, deriving its ICE key from
// hostVersion.
func New(conn *netudp.Conn, hostVersion uint32, logger *log.Logger) (*NetChannel, error) {
	if logger == nil {
		logger = log.Default()
	}
	// The key bytes only need to live long enough to build the round-key
	// schedule; the locked buffer is wiped as soon as that's done.
	keyBuf := memguard.NewBufferFromBytes(ice.DeriveChannelKey(hostVersion))
	cipher, err := ice.New(2, keyBuf.Bytes())
	keyBuf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("netchannel: %w", err)
	}
	nc := &NetChannel{
		cipher:         cipher,
		conn:           conn,
		logger:         logger,
		VerifyChecksum: true,
	}
	for slot := 0; slot < numSubchannelSlots; slot++ {
		nc.slots[slot][subchannel.StreamMessage] = subchannel.New(subchannel.StreamMessage, logger)
		nc.slots[slot][subchannel.StreamFile] = subchannel.New(subchannel.StreamFile, logger)
	}
	return nc, nil
}

func crc16Fold(data []byte) uint16 {
	sum := crc32.ChecksumIEEE(data)
	return uint16(sum&0xFFFF) ^ uint16(sum>>16)
}

// decryptPacket ICE-decrypts buf in place and strips the envelope,
// returning the inner payload bytes (a subslice of buf).
func decryptPacket(cipher *ice.Cipher, buf []byte) ([]byte, error) {
	if len(buf)%8 != 0 {
		return nil, ErrAlignment
	}

	if err := cipher.DecryptBufferInplace(buf); err != nil {
		return nil, fmt.Errorf("netchannel: %w", err)
	}

	pad := int(buf[0])
	if pad >= 0x80 || 1+pad+4 > len(buf) {
		return nil, ErrInvalidPadding
	}
	rest := buf[1+pad:]
	wireSize := int(binary.BigEndian.Uint32(rest[:4]))
	remaining := rest[4:]
	if wireSize > len(remaining) {
		return nil, ErrInvalidWireSize
	}
	return remaining[:wireSize], nil
}

// encryptPacket builds the ICE envelope around payload and encrypts it in
// place, returning the encrypted buffer ready for the wire. Padding is
// pad = 8 - ((len(payload)+5) mod 8); on the exact-multiple boundary this
// yields a full redundant block of 8 rather than 0, still a multiple of 8
// overall.
func encryptPacket(cipher *ice.Cipher, payload []byte) ([]byte, error) {
	pad := 8 - ((len(payload) + 5) % 8)

	buf := make([]byte, 0, 1+pad+4+len(payload))
	buf = append(buf, byte(pad))
	buf = append(buf, make([]byte, pad)...)

	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	buf = append(buf, sizeBuf[:]...)
	buf = append(buf, payload...)

	if err := cipher.EncryptBufferInplace(buf); err != nil {
		return nil, fmt.Errorf("netchannel: %w", err)
	}
	return buf, nil
}

// parseHeader reads the NetChannel packet header from r.
func parseHeader(r *bitio.Reader) (Header, uint16, error) {
	var h Header

	inSeq, err := r.ReadLong()
	if err != nil {
		return h, 0, err
	}
	h.InSequence = inSeq

	inAck, err := r.ReadLong()
	if err != nil {
		return h, 0, err
	}
	h.InAck = inAck

	flags, err := r.ReadByte()
	if err != nil {
		return h, 0, err
	}
	h.Reliable = flags&flagReliable != 0
	h.Choked = flags&flagChoked != 0

	checksum, err := r.ReadWord()
	if err != nil {
		return h, 0, err
	}

	h.ReliableState, err = r.ReadByte()
	if err != nil {
		return h, 0, err
	}

	if h.Choked {
		h.ChokedCount, err = r.ReadByte()
		if err != nil {
			return h, 0, err
		}
	}

	return h, checksum, nil
}

// checksumFieldEnd is the byte offset of the data covered by the CRC-16
// fold: sequence(4) + ack(4) + flags(1) + checksum(2), i.e. everything
// from just after the checksum field onward.
const checksumFieldEnd = 4 + 4 + 1 + 2

func checksumTail(payload []byte) []byte {
	if len(payload) < checksumFieldEnd {
		return nil
	}
	return payload[checksumFieldEnd:]
}

// ReadData receives, decrypts, validates, and fully parses the next
// NetChannel datagram.
func (nc *NetChannel) ReadData() (*Datagram, error) {
	raw, err := nc.conn.Recv()
	if err != nil {
		return nil, err
	}

	// Split and connectionless frames arrive unencrypted; their sentinel
	// is visible in the raw datagram before any decryption.
	if len(raw) >= 4 {
		switch binary.LittleEndian.Uint32(raw[:4]) {
		case SequenceSplit, SequenceConnectionless:
			return nil, ErrUnsupportedFrame
		}
	}

	buf := append([]byte(nil), raw...)
	payload, err := decryptPacket(nc.cipher, buf)
	if err != nil {
		return nil, err
	}

	if len(payload) >= 4 {
		switch binary.LittleEndian.Uint32(payload[:4]) {
		case SequenceSplit, SequenceConnectionless:
			return nil, ErrUnsupportedFrame
		case SequenceCompressed:
			decoded, derr := lzss.Decode(payload[4:])
			if derr != nil {
				return nil, fmt.Errorf("netchannel: %w", derr)
			}
			payload = decoded
		}
	}

	r := bitio.NewReader(payload)
	h, checksum, err := parseHeader(r)
	if err != nil {
		return nil, err
	}

	if nc.VerifyChecksum {
		if got := crc16Fold(checksumTail(payload)); got != checksum {
			return nil, ErrChecksumMismatch
		}
	}

	if nc.haveInSequence && h.InSequence <= nc.inSequence {
		nc.logger.Warn("dropping duplicate or reordered packet", "sequence", h.InSequence, "expected_gt", nc.inSequence)
		return nil, ErrSequenceViolation
	}

	dg := &Datagram{Header: h}

	if h.Reliable {
		subIdx, err := r.ReadUint(3)
		if err != nil {
			return nil, err
		}
		h.SubchannelIdx = byte(subIdx)
		dg.Header = h

		for stream := 0; stream < numStreamsPerSlot; stream++ {
			updated, err := r.ReadBit()
			if err != nil {
				return nil, err
			}
			if !updated {
				continue
			}
			sc := nc.slots[subIdx][stream]
			payloadOut, _, serr := sc.ReadSubchannelData(r)
			if serr != nil {
				return nil, fmt.Errorf("netchannel: %w", serr)
			}
			if payloadOut == nil {
				continue
			}
			if stream == int(subchannel.StreamMessage) {
				msgs, unknown, merr := netmsg.ReadAll(bitio.NewReader(payloadOut))
				if merr != nil {
					return nil, fmt.Errorf("netchannel: %w", merr)
				}
				for _, id := range unknown {
					nc.logger.Debug("unknown netmessage id, skipped", "id", id)
				}
				dg.Messages = append(dg.Messages, msgs...)
			} else {
				dg.FilesReceived = append(dg.FilesReceived, payloadOut)
			}
		}
		nc.reliableState ^= 1 << subIdx
	}

	msgs, unknown, err := netmsg.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("netchannel: %w", err)
	}
	for _, id := range unknown {
		nc.logger.Debug("unknown netmessage id, skipped", "id", id)
	}
	dg.Messages = append(dg.Messages, msgs...)

	nc.inSequence = h.InSequence
	nc.haveInSequence = true
	nc.outAck = h.InSequence

	return dg, nil
}

// SendPayload frames payload as a NetChannel packet: header, checksum,
// then the caller-supplied body (already-encoded subchannel descriptors
// and NetMessages), and transmits it over the connected socket.
func (nc *NetChannel) SendPayload(payload []byte) error {
	w := bitio.NewWriter()
	if err := w.WriteLong(nc.outSequence); err != nil {
		return err
	}
	if err := w.WriteLong(nc.outAck); err != nil {
		return err
	}

	var flags byte
	if nc.chokedNum > 0 {
		flags |= flagChoked
	}
	if err := w.WriteByte(flags); err != nil {
		return err
	}

	if err := w.WriteWord(0); err != nil { // checksum placeholder, patched below
		return err
	}
	if err := w.WriteByte(nc.reliableState); err != nil {
		return err
	}
	if flags&flagChoked != 0 {
		if err := w.WriteByte(nc.chokedNum); err != nil {
			return err
		}
	}
	if err := w.WriteBytes(payload); err != nil {
		return err
	}

	buf := w.Bytes()
	checksum := crc16Fold(checksumTail(buf))
	binary.LittleEndian.PutUint16(buf[9:11], checksum)

	encrypted, err := encryptPacket(nc.cipher, buf)
	if err != nil {
		return err
	}
	if err := nc.conn.SendRaw(encrypted); err != nil {
		return err
	}
	nc.outSequence++
	nc.chokedNum = 0
	return nil
}

// WriteNop sends an empty-payload keepalive packet.
func (nc *NetChannel) WriteNop() error {
	return nc.SendPayload(nil)
}

// SendReliable would fragment data onto an outbound subchannel slot.
// Outbound windowing and retransmission are not implemented; callers get
// an explicit error rather than silent data loss.
func (nc *NetChannel) SendReliable(stream subchannel.StreamType, data []byte) error {
	return ErrOutboundUnsupported
}
