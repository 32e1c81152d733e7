package baseline

// Inverse discrete cosine transform.

// Constants for the fast IDCT (scaled by 2^11).
const (
	w1 = 2841 // 2048*sqrt(2)*cos(1*pi/16)
	w2 = 2676 // 2048*sqrt(2)*cos(2*pi/16)
	w3 = 2408 // 2048*sqrt(2)*cos(3*pi/16)
	w5 = 1609 // 2048*sqrt(2)*cos(5*pi/16)
	w6 = 1108 // 2048*sqrt(2)*cos(6*pi/16)
	w7 = 565  // 2048*sqrt(2)*cos(7*pi/16)
)

// clip clamps a value to the 8-bit sample range.
func clip(x int32) byte {
	if x < 0 {
		return 0
	}

	if x > 255 {
		return 255
	}

	return byte(x)
}

// idct transforms a dequantized block into an 8x8 tile of out.
func idct(blk *[64]int32, out []byte, outOffset int, stride int) {
	for i := 0; i < 64; i += 8 {
		rowIdct(blk, i)
	}

	for i := 0; i < 8; i++ {
		colIdct(blk, i, out, outOffset+i, stride)
	}
}

// rowIdct performs a 1D IDCT on a single 8-element row.
func rowIdct(blk *[64]int32, offset int) {
	b := blk[offset : offset+8]
	_ = b[7]

	x1 := b[4] << 11
	x2 := b[6]
	x3 := b[2]
	x4 := b[1]
	x5 := b[7]
	x6 := b[5]
	x7 := b[3]

	if (x1 | x2 | x3 | x4 | x5 | x6 | x7) == 0 {
		val := b[0] << 3
		for i := range b {
			b[i] = val
		}

		return
	}

	x0 := (b[0] << 11) + 128

	// Stage 1
	x8 := w7 * (x4 + x5)
	x4 = x8 + (w1-w7)*x4
	x5 = x8 - (w1+w7)*x5
	x8 = w3 * (x6 + x7)
	x6 = x8 - (w3-w5)*x6
	x7 = x8 - (w3+w5)*x7

	// Stage 2
	x8 = x0 + x1
	x0 -= x1
	x1 = w6 * (x3 + x2)
	x2 = x1 - (w2+w6)*x2
	x3 = x1 + (w2-w6)*x3

	// Stage 3
	x1 = x4 + x6
	x4 -= x6
	x6 = x5 + x7
	x5 -= x7

	// Stage 4
	x7 = x8 + x3
	x8 -= x3
	x3 = x0 + x2
	x0 -= x2

	x2 = (181*(x4+x5) + 128) >> 8
	x4 = (181*(x4-x5) + 128) >> 8

	b[0] = (x7 + x1) >> 8
	b[1] = (x3 + x2) >> 8
	b[2] = (x0 + x4) >> 8
	b[3] = (x8 + x6) >> 8
	b[4] = (x8 - x6) >> 8
	b[5] = (x0 - x4) >> 8
	b[6] = (x3 - x2) >> 8
	b[7] = (x7 - x1) >> 8
}

// colIdct performs a 1D IDCT on a single column and stores the level
// shifted samples.
func colIdct(blk *[64]int32, offset int, out []byte, outOffset int, stride int) {
	out = out[outOffset:]
	_ = out[7*stride]

	x1 := blk[offset+8*4] << 8
	x2 := blk[offset+8*6]
	x3 := blk[offset+8*2]
	x4 := blk[offset+8*1]
	x5 := blk[offset+8*7]
	x6 := blk[offset+8*5]
	x7 := blk[offset+8*3]

	if (x1 | x2 | x3 | x4 | x5 | x6 | x7) == 0 {
		v := clip(((blk[offset] + 32) >> 6) + 128)
		for i := 0; i < 8; i++ {
			out[i*stride] = v
		}

		return
	}

	x0 := (blk[offset] << 8) + 8192

	// Stage 1
	x8 := w7*(x4+x5) + 4
	x4 = (x8 + (w1-w7)*x4) >> 3
	x5 = (x8 - (w1+w7)*x5) >> 3
	x8 = w3*(x6+x7) + 4
	x6 = (x8 - (w3-w5)*x6) >> 3
	x7 = (x8 - (w3+w5)*x7) >> 3

	// Stage 2
	x8 = x0 + x1
	x0 -= x1
	x1 = w6*(x3+x2) + 4
	x2 = (x1 - (w2+w6)*x2) >> 3
	x3 = (x1 + (w2-w6)*x3) >> 3

	// Stage 3
	x1 = x4 + x6
	x4 -= x6
	x6 = x5 + x7
	x5 -= x7

	// Stage 4
	x7 = x8 + x3
	x8 -= x3
	x3 = x0 + x2
	x0 -= x2

	x2 = (181*(x4+x5) + 128) >> 8
	x4 = (181*(x4-x5) + 128) >> 8

	out[0] = clip(((x7 + x1) >> 14) + 128)
	out[stride] = clip(((x3 + x2) >> 14) + 128)
	out[2*stride] = clip(((x0 + x4) >> 14) + 128)
	out[3*stride] = clip(((x8 + x6) >> 14) + 128)
	out[4*stride] = clip(((x8 - x6) >> 14) + 128)
	out[5*stride] = clip(((x0 - x4) >> 14) + 128)
	out[6*stride] = clip(((x3 - x2) >> 14) + 128)
	out[7*stride] = clip(((x7 - x1) >> 14) + 128)
}
