// SPDX-License-Identifier: Apache-2.0

// Package capture writes raw-frame dump files and decoded protocol logs and
// replays dump files back into the bridge for offline analysis.
package capture

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ehstools/nasabridge/pkg/codec"
	"github.com/ehstools/nasabridge/pkg/dictionary"
)

// DumpWriter appends raw frames to a dump file, one hex-encoded frame per
// line.
type DumpWriter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// OpenDump opens (or creates) a dump file for appending.
func OpenDump(path string) (*DumpWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	return &DumpWriter{w: f}, nil
}

// NewDumpWriter wraps an arbitrary writer, mainly for tests.
func NewDumpWriter(w io.WriteCloser) *DumpWriter {
	return &DumpWriter{w: w}
}

// WriteFrame appends one raw frame.
func (d *DumpWriter) WriteFrame(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintf(d.w, "%s\n", hex.EncodeToString(frame))
	return err
}

// Close flushes and closes the underlying file.
func (d *DumpWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w.Close()
}

// ReadDump parses a dump file and returns the captured frames. Blank lines
// and '#' comments are skipped; a malformed line aborts with its line number.
func ReadDump(r io.Reader) ([][]byte, error) {
	var frames [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		frame, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("dump line %d: %w", lineNo, err)
		}
		frames = append(frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	return frames, nil
}

// ReadDumpFile is ReadDump over a file path.
func ReadDumpFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump file: %w", err)
	}
	defer f.Close()
	return ReadDump(f)
}

// ProtocolWriter records every decoded reading as one semicolon-separated
// line: timestamp, message identifier, measurement name, value. It plugs
// into the pipeline as its capture sink.
type ProtocolWriter struct {
	mu   sync.Mutex
	w    io.WriteCloser
	dict *dictionary.Dictionary
}

// OpenProtocol opens (or creates) a protocol log for appending.
func OpenProtocol(path string, dict *dictionary.Dictionary) (*ProtocolWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open protocol log: %w", err)
	}
	return &ProtocolWriter{w: f, dict: dict}, nil
}

// NewProtocolWriter wraps an arbitrary writer, mainly for tests.
func NewProtocolWriter(w io.WriteCloser, dict *dictionary.Dictionary) *ProtocolWriter {
	return &ProtocolWriter{w: w, dict: dict}
}

// Record implements the pipeline sink.
func (p *ProtocolWriter) Record(r codec.Reading) error {
	id := "-"
	if def, ok := p.dict.ByName(r.Name); ok {
		id = fmt.Sprintf("0x%04x", def.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s;%s;%s;%s\n",
		r.Time.Format(time.RFC3339Nano), id, r.Name, r.Value())
	return err
}

// Close flushes and closes the underlying file.
func (p *ProtocolWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Close()
}
