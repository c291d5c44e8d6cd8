package segmenter

import (
	"fmt"
	"os"

	"github.com/opensensor/lightnvr/internal/fmp4io"
	"github.com/opensensor/lightnvr/internal/models"
)

// fileWriter incrementally builds one standalone fMP4 recording file: an
// ftyp+moov init segment, written once the first key frame's parameter
// sets are known, followed by one moof+mdat fragment per access unit.
// The byte-level construction lives in fmp4io; fileWriter only owns the
// *os.File target and the fsync-before-close durability guarantee.
type fileWriter struct {
	f           *os.File
	codec       string
	initWritten bool
	frag        *fmp4io.FragmentWriter
	bytesWritten int64
}

func createFile(path string) (*fileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileWriter{f: f, frag: fmp4io.NewFragmentWriter(1)}, nil
}

// writeInit emits the ftyp+moov box. paramSets is {sps, pps} for h264 or
// {vps, sps, pps} for h265.
func (w *fileWriter) writeInit(codec string, paramSets [][]byte) error {
	data, err := fmp4io.BuildInit(codec, paramSets)
	if err != nil {
		return err
	}
	w.codec = codec

	n, werr := w.f.Write(data)
	w.bytesWritten += int64(n)
	if werr != nil {
		return fmt.Errorf("write init segment: %w", werr)
	}
	w.initWritten = true
	return nil
}

// writeAccessUnit appends one fragment (moof+mdat) holding a single
// video access unit.
func (w *fileWriter) writeAccessUnit(pkt *models.Packet) error {
	if !w.initWritten {
		return fmt.Errorf("writeAccessUnit: init segment not written")
	}
	n, err := w.frag.WriteAccessUnit(w.f, pkt)
	w.bytesWritten += int64(n)
	return err
}

// closeSynced fsyncs the file before closing it, so a Catalog insert
// racing the close never observes a segment row pointing at
// not-yet-durable bytes.
func (w *fileWriter) closeSynced() error {
	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	if syncErr != nil {
		return fmt.Errorf("fsync segment file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close segment file: %w", closeErr)
	}
	return nil
}

func (w *fileWriter) size() int64 {
	return w.bytesWritten
}

func (w *fileWriter) frames() int {
	return w.frag.Frames()
}
