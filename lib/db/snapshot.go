package db

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Snapshot file layout (little endian):
//
//	magic   [8]byte  "PAPLDB\x00\x00"
//	version uint8
//	count   uint64
//	count x { stamp int64, len+key, len+version, len+value }   (len = uint32)
const (
	snapshotMagic   = "PAPLDB\x00\x00"
	snapshotVersion = 1
	maxFieldLen     = 1 << 30
)

// WriteSnapshot encodes recs to w in the snapshot format shared by all engines.
func WriteSnapshot(w io.Writer, recs []Record) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(recs))); err != nil {
		return err
	}

	for _, rec := range recs {
		if err := binary.Write(bw, binary.LittleEndian, rec.Stamp); err != nil {
			return err
		}
		for _, field := range [...]string{rec.Key, rec.Version, rec.Value} {
			if err := writeField(bw, field); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot and calls fn for
// every record in file order. Decoding stops at the first error of fn.
func ReadSnapshot(r io.Reader, fn func(rec Record) error) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return fmt.Errorf("invalid snapshot format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		var rec Record
		if err := binary.Read(br, binary.LittleEndian, &rec.Stamp); err != nil {
			return err
		}
		var err error
		if rec.Key, err = readField(br); err != nil {
			return err
		}
		if rec.Version, err = readField(br); err != nil {
			return err
		}
		if rec.Value, err = readField(br); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func writeField(w *bufio.Writer, s string) error {
	if len(s) > maxFieldLen {
		return fmt.Errorf("field too large: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readField(r *bufio.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxFieldLen {
		return "", fmt.Errorf("field too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
