// Package subchannel implements reliable fragment reassembly for one
// (slot, stream) pair of a NetChannel: a transfer is announced by its
// first fragment (carrying payload size, and optionally file metadata or
// LZSS compression), then completed once every 256-byte fragment has
// arrived.
package subchannel

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/cipherleaf/senetchan/bitio"
	"github.com/cipherleaf/senetchan/lzss"
)

// FragmentSize is the size in bytes of one on-wire fragment unit.
const FragmentSize = 256

// MaxFileSize bounds both the declared payload size and, if compressed,
// the declared uncompressed size.
const MaxFileSize = (1 << 26) - 1

// StreamType distinguishes the two streams multiplexed per subchannel
// slot.
type StreamType int

const (
	StreamMessage StreamType = 0
	StreamFile    StreamType = 1
)

var (
	ErrOutOfBounds        = errors.New("subchannel: fragment chunk out of bounds")
	ErrZeroPayload        = errors.New("subchannel: zero-length payload")
	ErrPayloadTooLarge    = errors.New("subchannel: payload exceeds max file size")
	ErrCompressedTooLarge = errors.New("subchannel: declared uncompressed size exceeds max file size")
	ErrDecompressMismatch = errors.New("subchannel: decompressed length does not match declared size")
	ErrNoPendingTransfer  = errors.New("subchannel: fragment received with no transfer pending")
	ErrZeroFragmentCount  = errors.New("subchannel: fragment group carries zero fragments")
)

// FileInfo is populated when the transfer underway is a file (rather than
// a reliable message stream) payload.
type FileInfo struct {
	TransferID uint32
	FileName   string
	IsReplay   bool
}

// compressedInfo is populated when the transfer is LZSS-compressed.
type compressedInfo struct {
	uncompressedSize int
}

// transferBuffer is one in-progress reassembly.
type transferBuffer struct {
	buffer          []byte
	numFragments    int
	numFragmentsAck int
}

func newTransferBuffer(transferSize int) *transferBuffer {
	numFragments := (transferSize + FragmentSize - 1) / FragmentSize
	return &transferBuffer{
		buffer:       make([]byte, transferSize),
		numFragments: numFragments,
	}
}

// readFragments consumes the next group of fragments from r into the
// buffer, returning true once every fragment of the transfer has arrived.
func (t *transferBuffer) readFragments(startFrag, numFragments int, r *bitio.Reader) (bool, error) {
	totalRecvLength := numFragments * FragmentSize
	lastRecvFragment := startFrag + numFragments

	complete := false
	switch {
	case lastRecvFragment == t.numFragments:
		finalPart := FragmentSize - (len(t.buffer) % FragmentSize)
		if finalPart < FragmentSize {
			totalRecvLength -= finalPart
		}
		complete = true
	case lastRecvFragment > t.numFragments:
		return false, ErrOutOfBounds
	}

	start := startFrag * FragmentSize
	if start < 0 || start+totalRecvLength > len(t.buffer) {
		return false, ErrOutOfBounds
	}
	if err := r.ReadBytesInto(t.buffer[start : start+totalRecvLength]); err != nil {
		return false, err
	}

	t.numFragmentsAck += numFragments
	return complete, nil
}

// decompress replaces the buffer with its LZSS-decoded contents, checking
// the result against the transfer's declared uncompressed size.
func (t *transferBuffer) decompress(expectedLength int) error {
	decoded, err := lzss.Decode(t.buffer)
	if err != nil {
		return fmt.Errorf("subchannel: %w", err)
	}
	if len(decoded) != expectedLength {
		return ErrDecompressMismatch
	}
	t.buffer = decoded
	return nil
}

// SubChannel tracks one (slot, stream) reassembly state machine across
// its lifetime: idle, mid-transfer, and the bit that flips each time a
// transfer is acknowledged.
type SubChannel struct {
	stream StreamType
	logger *log.Logger

	file            *FileInfo
	compressed      *compressedInfo
	payloadSize     int
	transfer        *transferBuffer
	inReliableState bool
}

// New creates an idle SubChannel for the given stream.
func New(stream StreamType, logger *log.Logger) *SubChannel {
	if logger == nil {
		logger = log.Default()
	}
	return &SubChannel{stream: stream, logger: logger}
}

// InReliableState returns the current ack-bit value toggled on every
// completed transfer.
func (s *SubChannel) InReliableState() bool { return s.inReliableState }

func (s *SubChannel) readFileInfo(r *bitio.Reader) error {
	isFile, err := r.ReadBit()
	if err != nil {
		return err
	}
	if !isFile {
		return nil
	}
	transferID, err := r.ReadLong()
	if err != nil {
		return err
	}
	fileName, err := r.ReadString()
	if err != nil {
		return err
	}
	isReplay, err := r.ReadBit()
	if err != nil {
		return err
	}
	s.file = &FileInfo{TransferID: transferID, FileName: fileName, IsReplay: isReplay}
	return nil
}

func (s *SubChannel) readCompressInfo(r *bitio.Reader) error {
	compressed, err := r.ReadBit()
	if err != nil {
		return err
	}
	if !compressed {
		return nil
	}
	size, err := r.ReadUint(26)
	if err != nil {
		return err
	}
	s.compressed = &compressedInfo{uncompressedSize: int(size)}
	return nil
}

// validateTransferHeader enforces the declared-size bounds on a newly
// announced transfer.
func (s *SubChannel) validateTransferHeader() error {
	if s.payloadSize > MaxFileSize {
		return ErrPayloadTooLarge
	}
	if s.payloadSize == 0 {
		return ErrZeroPayload
	}
	if s.compressed != nil && s.compressed.uncompressedSize > MaxFileSize {
		return ErrCompressedTooLarge
	}
	return nil
}

// ReadSubchannelData consumes one fragment group from r (positioned after
// the per-stream `updated` bit). It returns the completed payload and any
// file metadata once the transfer finishes, or (nil, nil, nil) if more
// fragments are still expected.
func (s *SubChannel) ReadSubchannelData(r *bitio.Reader) ([]byte, *FileInfo, error) {
	notSingle, err := r.ReadBit()
	if err != nil {
		return nil, nil, err
	}
	single := !notSingle

	var startFrag, numFrags int
	if !single {
		v, err := r.ReadUint(18)
		if err != nil {
			return nil, nil, err
		}
		startFrag = int(v)

		nf, err := r.ReadUint(3)
		if err != nil {
			return nil, nil, err
		}
		numFrags = int(nf)
		if numFrags == 0 {
			return nil, nil, ErrZeroFragmentCount
		}
	}

	if startFrag == 0 {
		if !single {
			if err := s.readFileInfo(r); err != nil {
				return nil, nil, err
			}
		} else {
			s.file = nil
		}
		s.compressed = nil
		if err := s.readCompressInfo(r); err != nil {
			return nil, nil, err
		}

		var size uint64
		if single {
			size, err = r.ReadUint(18)
		} else {
			size, err = r.ReadUint(26)
		}
		if err != nil {
			return nil, nil, err
		}
		s.payloadSize = int(size)

		if err := s.validateTransferHeader(); err != nil {
			return nil, nil, err
		}

		if s.transfer != nil {
			s.logger.Warn("reinitializing transfer buffer due to fragment abort")
		}
		s.transfer = newTransferBuffer(s.payloadSize)

		// A single-block transfer is delivered whole in this one call: the
		// fragment count for readFragments is the transfer's total fragment
		// count, not a wire-read value (the wire carries no num_frags field
		// when single is set).
		if single {
			numFrags = s.transfer.numFragments
		}
	}

	if s.transfer == nil {
		return nil, nil, ErrNoPendingTransfer
	}

	complete, err := s.transfer.readFragments(startFrag, numFrags, r)
	if err != nil {
		return nil, nil, err
	}

	if !complete {
		return nil, nil, nil
	}
	s.inReliableState = !s.inReliableState

	if s.compressed != nil {
		if err := s.transfer.decompress(s.compressed.uncompressedSize); err != nil {
			return nil, nil, err
		}
	}

	payload := s.transfer.buffer
	file := s.file
	s.transfer = nil
	s.file = nil
	s.compressed = nil
	return payload, file, nil
}
