package extractor

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
	markerTEM = 0x01
)

var errCorruptStream = errors.New("corrupt jpeg stream")

// splitFrames reads concatenated JPEG images from r and calls fn with each one
// in order, along with its zero-based position in the stream.
func splitFrames(r io.Reader, fn func(index int, image []byte) error) error {
	br := bufio.NewReaderSize(r, 256*1024)
	for index := 0; ; index++ {
		img, err := nextJPEG(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(index, img); err != nil {
			return err
		}
	}
}

// nextJPEG returns the next complete image, walking marker segments so bytes
// inside headers or entropy-coded data are never mistaken for EOI.
func nextJPEG(r *bufio.Reader) ([]byte, error) {
	var prev byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == markerSOI {
			break
		}
		prev = b
	}

	buf := []byte{0xFF, markerSOI}
	var marker byte
	pending := false
	for {
		if !pending {
			m, err := readMarker(r)
			if err != nil {
				return nil, unexpected(err)
			}
			marker = m
		}
		pending = false
		buf = append(buf, 0xFF, marker)

		if marker == markerEOI {
			return buf, nil
		}
		if marker == markerTEM || isRST(marker) {
			continue
		}

		var size [2]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return nil, unexpected(err)
		}
		n := int(binary.BigEndian.Uint16(size[:]))
		if n < 2 {
			return nil, fmt.Errorf("%w: segment length %d", errCorruptStream, n)
		}
		seg := make([]byte, n-2)
		if _, err := io.ReadFull(r, seg); err != nil {
			return nil, unexpected(err)
		}
		buf = append(buf, size[0], size[1])
		buf = append(buf, seg...)

		if marker == markerSOS {
			m, err := scanEntropy(r, &buf)
			if err != nil {
				return nil, unexpected(err)
			}
			marker = m
			pending = true
		}
	}
}

// readMarker expects 0xFF, skips fill bytes and returns the marker code.
func readMarker(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return 0, fmt.Errorf("%w: expected marker, got 0x%02X", errCorruptStream, b)
	}
	for b == 0xFF {
		if b, err = r.ReadByte(); err != nil {
			return 0, err
		}
	}
	return b, nil
}

// scanEntropy copies entropy-coded data into buf and returns the marker that
// ends it. Stuffed zero bytes and restart markers belong to the data.
func scanEntropy(r *bufio.Reader, buf *[]byte) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			*buf = append(*buf, b)
			continue
		}
		n, err := r.ReadByte()
		for err == nil && n == 0xFF {
			n, err = r.ReadByte()
		}
		if err != nil {
			return 0, err
		}
		if n == 0x00 || isRST(n) {
			*buf = append(*buf, 0xFF, n)
			continue
		}
		return n, nil
	}
}

func isRST(m byte) bool {
	return m >= 0xD0 && m <= 0xD7
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
