package baseline

// Bitstream handling

// showBits peeks bits from the entropy-coded segment. Stuffed 0xFF00 pairs
// are read as 0xFF; restart markers are read as data so the scan loop can
// check them. Other markers and the end of data pad with one bits.
func (d *decoder) showBits(bits int) int {
	if bits == 0 {
		return 0
	}

fillLoop:
	for d.bufBits < bits {
		if d.size <= 0 {
			d.buf = (d.buf << 8) | 0xFF
			d.bufBits += 8

			continue
		}

		b := d.data[d.pos]
		d.pos++
		d.size--

		if b == 0xFF && d.size > 0 {
			b2 := d.data[d.pos]

			switch {
			case b2 == 0:
				d.pos++
				d.size--
			case (b2 | 7) != 0xD7:
				// Not a restart marker: stop at it and pad instead.
				d.pos--
				d.size++

				break fillLoop
			}
		}

		d.buf = (d.buf << 8) | uint64(b)
		d.bufBits += 8
	}

	shift := d.bufBits - bits
	var res uint64
	if shift >= 0 {
		res = d.buf >> shift
	} else {
		res = d.buf<<(-shift) | (1<<(-shift) - 1)
	}

	return int(res & (1<<bits - 1))
}

// skipBits consumes bits from the bitstream.
func (d *decoder) skipBits(bits int) {
	if d.bufBits < bits {
		d.showBits(bits)
	}

	if d.bufBits < bits {
		d.bufBits = 0
	} else {
		d.bufBits -= bits
	}
}

// getBits reads and consumes bits from the bitstream.
func (d *decoder) getBits(bits int) int {
	res := d.showBits(bits)
	d.skipBits(bits)

	return res
}

// byteAlign drops the bits up to the next byte boundary.
func (d *decoder) byteAlign() {
	d.bufBits &= ^7
}
