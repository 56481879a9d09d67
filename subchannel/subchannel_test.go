package subchannel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cipherleaf/senetchan/bitio"
)

func TestSingleBlockTransferCompletes(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	w := bitio.NewWriter()
	w.WriteBit(false) // not-single=false -> single
	w.WriteBit(false) // compressed=false
	require.NoError(t, w.WriteUint(18, uint64(len(payload))))
	require.NoError(t, w.WriteBytes(payload))

	sc := New(StreamMessage, nil)
	out, file, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Nil(t, file)
	require.Equal(t, payload, out)
	require.True(t, sc.InReliableState())
}

func TestMultiBlockTransferAcrossTwoCalls(t *testing.T) {
	payloadSize := 300
	part1 := make([]byte, 256)
	for i := range part1 {
		part1[i] = byte(i)
	}
	part2 := make([]byte, 44)
	for i := range part2 {
		part2[i] = byte(200 + i)
	}

	w1 := bitio.NewWriter()
	w1.WriteBit(true) // not-single=true -> multi
	require.NoError(t, w1.WriteUint(18, 0))
	require.NoError(t, w1.WriteUint(3, 1))
	w1.WriteBit(false) // is_file=false
	w1.WriteBit(false) // compressed=false
	require.NoError(t, w1.WriteUint(26, uint64(payloadSize)))
	require.NoError(t, w1.WriteBytes(part1))

	sc := New(StreamMessage, nil)
	out, file, err := sc.ReadSubchannelData(bitio.NewReader(w1.Bytes()))
	require.NoError(t, err)
	require.Nil(t, out)
	require.Nil(t, file)
	require.False(t, sc.InReliableState())

	w2 := bitio.NewWriter()
	w2.WriteBit(true) // not-single=true -> multi
	require.NoError(t, w2.WriteUint(18, 1))
	require.NoError(t, w2.WriteUint(3, 1))
	require.NoError(t, w2.WriteBytes(part2))

	out2, file2, err := sc.ReadSubchannelData(bitio.NewReader(w2.Bytes()))
	require.NoError(t, err)
	require.Nil(t, file2)
	require.Len(t, out2, payloadSize)
	require.Equal(t, part1, out2[:256])
	require.Equal(t, part2, out2[256:])
	require.True(t, sc.InReliableState())
}

// lzssLiteralBlob wraps payload in a valid all-literal LZSS frame: magic,
// LE u32 expected size, then a zero command byte per 8 literals. The
// decoder stops once the output reaches the expected size, so no
// terminator reference is needed.
func lzssLiteralBlob(payload []byte) []byte {
	n := len(payload)
	blob := []byte{'L', 'Z', 'S', 'S', byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	for i, b := range payload {
		if i%8 == 0 {
			blob = append(blob, 0x00)
		}
		blob = append(blob, b)
	}
	if n%8 == 0 {
		blob = append(blob, 0x00)
	}
	return blob
}

func TestSingleBlockCompressedTransfer(t *testing.T) {
	payload := []byte("compressed reliable data")
	blob := lzssLiteralBlob(payload)

	w := bitio.NewWriter()
	w.WriteBit(false) // single
	w.WriteBit(true)  // compressed
	require.NoError(t, w.WriteUint(26, uint64(len(payload))))
	require.NoError(t, w.WriteUint(18, uint64(len(blob))))
	require.NoError(t, w.WriteBytes(blob))

	sc := New(StreamMessage, nil)
	out, file, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Nil(t, file)
	require.Equal(t, payload, out)
	require.True(t, sc.InReliableState())
}

func TestMultiBlockCompressedTransfer(t *testing.T) {
	payload := make([]byte, 280)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	blob := lzssLiteralBlob(payload)
	numFrags := (len(blob) + FragmentSize - 1) / FragmentSize

	w := bitio.NewWriter()
	w.WriteBit(true) // multi
	require.NoError(t, w.WriteUint(18, 0))
	require.NoError(t, w.WriteUint(3, uint64(numFrags)))
	w.WriteBit(false) // is_file=false
	w.WriteBit(true)  // compressed
	require.NoError(t, w.WriteUint(26, uint64(len(payload))))
	require.NoError(t, w.WriteUint(26, uint64(len(blob))))
	require.NoError(t, w.WriteBytes(blob))

	sc := New(StreamMessage, nil)
	out, file, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Nil(t, file)
	require.Equal(t, payload, out)
	require.True(t, sc.InReliableState())
}

func TestCompressedDeclaredSizeMismatch(t *testing.T) {
	payload := []byte("compressed reliable data")
	blob := lzssLiteralBlob(payload)

	w := bitio.NewWriter()
	w.WriteBit(false) // single
	w.WriteBit(true)  // compressed
	// header lies about the uncompressed size
	require.NoError(t, w.WriteUint(26, uint64(len(payload)+1)))
	require.NoError(t, w.WriteUint(18, uint64(len(blob))))
	require.NoError(t, w.WriteBytes(blob))

	sc := New(StreamMessage, nil)
	_, _, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.ErrorIs(t, err, ErrDecompressMismatch)
}

// The too-large arms guard bounds a 26-bit wire field cannot encode a
// value above, so they are exercised directly.
func TestPayloadTooLargeRejected(t *testing.T) {
	sc := New(StreamMessage, nil)
	sc.payloadSize = MaxFileSize + 1
	require.ErrorIs(t, sc.validateTransferHeader(), ErrPayloadTooLarge)
}

func TestCompressedTooLargeRejected(t *testing.T) {
	sc := New(StreamMessage, nil)
	sc.payloadSize = 10
	sc.compressed = &compressedInfo{uncompressedSize: MaxFileSize + 1}
	require.ErrorIs(t, sc.validateTransferHeader(), ErrCompressedTooLarge)
}

func TestZeroPayloadRejected(t *testing.T) {
	w := bitio.NewWriter()
	w.WriteBit(false)
	w.WriteBit(false)
	require.NoError(t, w.WriteUint(18, 0))

	sc := New(StreamMessage, nil)
	_, _, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.ErrorIs(t, err, ErrZeroPayload)
}

func TestZeroFragmentCountRejected(t *testing.T) {
	w := bitio.NewWriter()
	w.WriteBit(true) // multi
	require.NoError(t, w.WriteUint(18, 0))
	require.NoError(t, w.WriteUint(3, 0)) // num_frags=0

	sc := New(StreamMessage, nil)
	_, _, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.ErrorIs(t, err, ErrZeroFragmentCount)
}

func TestNoPendingTransferRejected(t *testing.T) {
	w := bitio.NewWriter()
	w.WriteBit(true) // multi
	require.NoError(t, w.WriteUint(18, 1))
	require.NoError(t, w.WriteUint(3, 1))

	sc := New(StreamMessage, nil)
	_, _, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.ErrorIs(t, err, ErrNoPendingTransfer)
}

func TestOutOfBoundsFragmentRejected(t *testing.T) {
	w1 := bitio.NewWriter()
	w1.WriteBit(true)
	require.NoError(t, w1.WriteUint(18, 0))
	require.NoError(t, w1.WriteUint(3, 1))
	w1.WriteBit(false)
	w1.WriteBit(false)
	require.NoError(t, w1.WriteUint(26, 300))
	require.NoError(t, w1.WriteBytes(make([]byte, 256)))

	sc := New(StreamMessage, nil)
	_, _, err := sc.ReadSubchannelData(bitio.NewReader(w1.Bytes()))
	require.NoError(t, err)

	w2 := bitio.NewWriter()
	w2.WriteBit(true)
	require.NoError(t, w2.WriteUint(18, 5)) // far beyond total fragment count (2)
	require.NoError(t, w2.WriteUint(3, 1))
	require.NoError(t, w2.WriteBytes(make([]byte, 256)))

	_, _, err = sc.ReadSubchannelData(bitio.NewReader(w2.Bytes()))
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestFileTransferMetadata(t *testing.T) {
	w := bitio.NewWriter()
	w.WriteBit(true) // multi
	require.NoError(t, w.WriteUint(18, 0))
	require.NoError(t, w.WriteUint(3, 1))
	w.WriteBit(true) // is_file=true
	require.NoError(t, w.WriteLong(42))
	require.NoError(t, w.WriteString("demo.dem"))
	w.WriteBit(false) // is_replay=false
	w.WriteBit(false) // compressed=false
	require.NoError(t, w.WriteUint(26, 4))
	require.NoError(t, w.WriteBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF}))

	sc := New(StreamFile, nil)
	out, file, err := sc.ReadSubchannelData(bitio.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, out)
	require.NotNil(t, file)
	require.Equal(t, uint32(42), file.TransferID)
	require.Equal(t, "demo.dem", file.FileName)
	require.False(t, file.IsReplay)
}
