package compression

import "io"

// packBitsReader decodes the byte-wise RLE of TIFF PackBits. A header byte
// n in [0,127] starts a literal of n+1 bytes, n in [-127,-1] repeats the
// next byte 1-n times, and -128 is a no-op. The reader consumes source
// bytes only when output is demanded, so it never over-reads past the run
// that satisfies the final output byte.
type packBitsReader struct {
	r      io.Reader
	repeat bool
	value  byte
	count  int
}

func (p *packBitsReader) Read(buf []byte) (int, error) {
	for p.count == 0 {
		var header [1]byte
		if _, err := p.r.Read(header[:]); err != nil {
			return 0, err
		}
		switch h := int8(header[0]); {
		case h >= 0:
			p.repeat = false
			p.count = int(h) + 1
		case h == -128:
			// no-op
		default:
			var value [1]byte
			if _, err := io.ReadFull(p.r, value[:]); err != nil {
				return 0, err
			}
			p.repeat = true
			p.value = value[0]
			p.count = 1 - int(h)
		}
	}

	n := len(buf)
	if n > p.count {
		n = p.count
	}
	if p.repeat {
		for i := 0; i < n; i++ {
			buf[i] = p.value
		}
	} else {
		m, err := p.r.Read(buf[:n])
		if err != nil {
			return m, err
		}
		n = m
	}
	p.count -= n
	return n, nil
}

type packBitsCompressor struct{}

func (packBitsCompressor) Compress(w io.Writer, data []byte) (int64, error) {
	var written int64
	write := func(b []byte) error {
		n, err := w.Write(b)
		written += int64(n)
		return err
	}

	i := 0
	for i < len(data) {
		// Length of the run starting at i, capped at the 128-byte block size.
		j := i + 1
		for j < len(data) && j-i < 128 && data[j] == data[i] {
			j++
		}
		if run := j - i; run > 1 {
			if err := write([]byte{byte(1 - run), data[i]}); err != nil {
				return written, err
			}
			i = j
			continue
		}

		// Literal block: extend until a run of three begins or the block fills.
		start := i
		i++
		for i < len(data) && i-start < 128 {
			if i+2 < len(data) && data[i] == data[i+1] && data[i] == data[i+2] {
				break
			}
			i++
		}
		if err := write([]byte{byte(i - start - 1)}); err != nil {
			return written, err
		}
		if err := write(data[start:i]); err != nil {
			return written, err
		}
	}
	return written, nil
}
