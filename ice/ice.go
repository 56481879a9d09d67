// Package ice implements the ICE block cipher (Matthew Kwan's reference
// algorithm, http://www.darkside.com.au/ice/ice.c) in 64-bit-block ECB
// mode, as used by the Source Engine to encrypt every NetChannel datagram.
package ice

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBufferAlignment is returned by the buffer-mode encrypt/decrypt calls
// when the input length is not a multiple of the 8-byte block size.
var ErrBufferAlignment = errors.New("ice: buffer length must be a multiple of 8")

const blockSize = 8

var (
	sboxOnce  sync.Once
	sboxTable [4][1024]uint32
)

func sboxes() *[4][1024]uint32 {
	sboxOnce.Do(func() {
		sboxTable = buildSBoxes()
	})
	return &sboxTable
}

// subKey holds one round's three 32-bit schedule words.
type subKey struct {
	key [3]uint32
}

// Cipher is a keyed, reusable ICE cipher instance.
type Cipher struct {
	n      int
	rounds int
	sched  []subKey
	sbox   *[4][1024]uint32
}

// New constructs a Cipher with strength parameter n (round count is 16*n;
// n=0 selects the 8-round Thin-ICE variant) and the given key, which must
// be exactly max(n,1)*8 bytes. n=2 is the only strength the Source Engine
// uses for NetChannel traffic.
func New(n int, key []byte) (*Cipher, error) {
	size, rounds := n, n*16
	if n < 1 {
		size, rounds = 1, 8
	}
	if len(key) != size*8 {
		return nil, fmt.Errorf("ice: key must be exactly %d bytes for n=%d, got %d", size*8, n, len(key))
	}

	c := &Cipher{
		n:      size,
		rounds: rounds,
		sbox:   sboxes(),
	}
	c.sched = make([]subKey, c.rounds)
	c.keySet(key)
	return c, nil
}

// BlockSize returns the cipher's block size in bytes (always 8).
func (c *Cipher) BlockSize() int { return blockSize }

func (c *Cipher) keyScheduleBuild(kb *[4]uint32, n int, keyrot []int) {
	for i := 0; i < 8; i++ {
		kr := keyrot[i]
		isk := &c.sched[n+i]
		isk.key = [3]uint32{}

		for j := 0; j < 15; j++ {
			curr := &isk.key[j%3]
			for k := 0; k < 4; k++ {
				idx := (kr + k) & 3
				bit := kb[idx] & 1
				*curr = (*curr << 1) | bit
				kb[idx] = (kb[idx] >> 1) | ((bit ^ 1) << 15)
			}
		}
	}
}

func (c *Cipher) keySet(key []byte) {
	if c.rounds == 8 {
		var kb [4]uint32
		for i := 0; i < 4; i++ {
			kb[3-i] = (uint32(key[i*2]) << 8) | uint32(key[i*2+1])
		}
		c.keyScheduleBuild(&kb, 0, iceKeyrot[:])
		return
	}

	for i := 0; i < c.n; i++ {
		var kb [4]uint32
		for j := 0; j < 4; j++ {
			kb[3-j] = (uint32(key[i*8+j*2]) << 8) | uint32(key[i*8+j*2+1])
		}
		c.keyScheduleBuild(&kb, i*8, iceKeyrot[:])
		c.keyScheduleBuild(&kb, c.rounds-8-(i*8), iceKeyrot2[:])
	}
}

// f is the ICE round (Feistel) function.
func (c *Cipher) f(p uint32, sk *subKey) uint32 {
	tl := ((p >> 16) & 0x3ff) | (((p >> 14) | (p << 18)) & 0xffc00)
	tr := (p & 0x3ff) | ((p << 2) & 0xffc00)

	al := sk.key[2] & (tl ^ tr)
	ar := al ^ tr
	al ^= tl

	al ^= sk.key[0]
	ar ^= sk.key[1]

	return c.sbox[0][(al>>10)&0x3ff] | c.sbox[1][al&0x3ff] |
		c.sbox[2][(ar>>10)&0x3ff] | c.sbox[3][ar&0x3ff]
}

func loadBlock(b []byte) (uint32, uint32) {
	l := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	r := uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	return l, r
}

func storeBlock(out []byte, l, r uint32) {
	for i := 0; i < 4; i++ {
		out[3-i] = byte(r & 0xff)
		out[7-i] = byte(l & 0xff)
		r >>= 8
		l >>= 8
	}
}

// EncryptBlock encrypts exactly 8 bytes from src into dst. src and dst may
// overlap (they may be the same slice) since the halves are loaded before
// any bytes are stored.
func (c *Cipher) EncryptBlock(dst, src []byte) {
	l, r := loadBlock(src)
	for i := 0; i < c.rounds; i += 2 {
		l ^= c.f(r, &c.sched[i])
		r ^= c.f(l, &c.sched[i+1])
	}
	storeBlock(dst, l, r)
}

// DecryptBlock decrypts exactly 8 bytes from src into dst.
func (c *Cipher) DecryptBlock(dst, src []byte) {
	l, r := loadBlock(src)
	for i := c.rounds - 1; i > 0; i -= 2 {
		l ^= c.f(r, &c.sched[i])
		r ^= c.f(l, &c.sched[i-1])
	}
	storeBlock(dst, l, r)
}

// EncryptBufferInplace encrypts an 8-byte-aligned buffer in place, one ECB
// block at a time. It returns ErrBufferAlignment if len(buffer) is not a
// multiple of 8.
func (c *Cipher) EncryptBufferInplace(buffer []byte) error {
	if len(buffer)%blockSize != 0 {
		return ErrBufferAlignment
	}
	for off := 0; off < len(buffer); off += blockSize {
		block := buffer[off : off+blockSize]
		c.EncryptBlock(block, block)
	}
	return nil
}

// DecryptBufferInplace decrypts an 8-byte-aligned buffer in place.
func (c *Cipher) DecryptBufferInplace(buffer []byte) error {
	if len(buffer)%blockSize != 0 {
		return ErrBufferAlignment
	}
	for off := 0; off < len(buffer); off += blockSize {
		block := buffer[off : off+blockSize]
		c.DecryptBlock(block, block)
	}
	return nil
}

// DeriveChannelKey computes the fixed 16-byte NetChannel ICE key: the
// ASCII tag "CSGO" followed by 12 bytes sampled from hostVersion at bit
// shifts [0,8,16,24, 2,10,18,26, 4,12,20,28].
func DeriveChannelKey(hostVersion uint32) []byte {
	shifts := [12]uint{0, 8, 16, 24, 2, 10, 18, 26, 4, 12, 20, 28}
	key := make([]byte, 0, 16)
	key = append(key, 'C', 'S', 'G', 'O')
	for _, s := range shifts {
		key = append(key, byte(hostVersion>>s))
	}
	return key
}
