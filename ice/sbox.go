package ice

// Constant tables for the ICE S-box construction and key schedule, taken
// verbatim from Matthew Kwan's reference ice.c
// (http://www.darkside.com.au/ice/).

var iceSMod = [4][4]uint32{
	{333, 313, 505, 369},
	{379, 375, 319, 391},
	{361, 445, 451, 397},
	{397, 425, 395, 505},
}

var iceSXor = [4][4]uint32{
	{0x83, 0x85, 0x9b, 0xcd},
	{0xcc, 0xa7, 0xad, 0x41},
	{0x4b, 0x2e, 0xd4, 0x33},
	{0xea, 0xcb, 0x2e, 0x04},
}

var icePBox = [32]uint32{
	0x00000001, 0x00000080, 0x00000400, 0x00002000,
	0x00080000, 0x00200000, 0x01000000, 0x40000000,
	0x00000008, 0x00000020, 0x00000100, 0x00004000,
	0x00010000, 0x00800000, 0x04000000, 0x20000000,
	0x00000004, 0x00000010, 0x00000200, 0x00008000,
	0x00020000, 0x00400000, 0x08000000, 0x10000000,
	0x00000002, 0x00000040, 0x00000800, 0x00001000,
	0x00040000, 0x00100000, 0x02000000, 0x80000000,
}

var iceKeyrot = [16]int{
	0, 1, 2, 3, 2, 1, 3, 0,
	1, 3, 2, 0, 3, 1, 0, 2,
}

var iceKeyrot2 = [8]int{
	1, 3, 2, 0, 3, 1, 0, 2,
}

func gfMult(a, b, m uint32) uint32 {
	var res uint32
	for b != 0 {
		if b&1 != 0 {
			res ^= a
		}
		a <<= 1
		b >>= 1
		if a >= 256 {
			a ^= m
		}
	}
	return res
}

func gfExp7(b, m uint32) uint32 {
	if b == 0 {
		return 0
	}
	x := gfMult(b, b, m)
	x = gfMult(b, x, m)
	x = gfMult(x, x, m)
	return gfMult(b, x, m)
}

func icePerm32(x uint32) uint32 {
	var res uint32
	idx := 0
	for x != 0 {
		if x&1 != 0 {
			res |= icePBox[idx]
		}
		idx++
		x >>= 1
	}
	return res
}

// buildSBoxes constructs the four 1024-entry S-boxes shared by every ICE
// key schedule of a given run (they depend only on the fixed constant
// tables above, not on the key).
func buildSBoxes() [4][1024]uint32 {
	var sbox [4][1024]uint32
	for i := 0; i < 1024; i++ {
		col := uint32(i>>1) & 0xff
		row := uint32(i&0x1) | (uint32(i&0x200) >> 8)

		x := gfExp7(col^iceSXor[0][row], iceSMod[0][row]) << 24
		sbox[0][i] = icePerm32(x)

		x = gfExp7(col^iceSXor[1][row], iceSMod[1][row]) << 16
		sbox[1][i] = icePerm32(x)

		x = gfExp7(col^iceSXor[2][row], iceSMod[2][row]) << 8
		sbox[2][i] = icePerm32(x)

		x = gfExp7(col^iceSXor[3][row], iceSMod[3][row])
		sbox[3][i] = icePerm32(x)
	}
	return sbox
}
