package raft

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// unitSeparator delimits the fields of an encoded command, the same
// convention the original command codec used for Put/Delete payloads.
const unitSeparator byte = 0x1f

// LogFile is an append-only on-disk write-ahead log. It exists so a
// lone surviving node with no snapshot does not lose committed writes
// that were never reflected anywhere else on disk; it does not replace
// the in-memory Log, it backs it.
type LogFile struct {
	path string
	file *os.File
	w    *bufio.Writer
}

func NewLogFile(path string) *LogFile {
	return &LogFile{path: path}
}

func (f *LogFile) Open() error {
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", f.path, err)
	}

	f.file = file
	f.w = bufio.NewWriter(file)

	return nil
}

func (f *LogFile) Close() error {
	if f.file == nil {
		return nil
	}

	return f.file.Close()
}

// Append writes entry to the log file and flushes, so that a crash
// immediately after a successful Append call cannot lose it.
func (f *LogFile) Append(entry LogEntry) error {
	data, err := encodeLogEntry(entry)
	if err != nil {
		return fmt.Errorf("cannot encode entry: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))

	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("cannot write %q: %w", f.path, err)
	}

	if _, err := f.w.Write(data); err != nil {
		return fmt.Errorf("cannot write %q: %w", f.path, err)
	}

	if err := f.w.Flush(); err != nil {
		return fmt.Errorf("cannot flush %q: %w", f.path, err)
	}

	return f.file.Sync()
}

// Replay reads every entry back in order, invoking fn for each. It is
// used at startup, after the latest snapshot has been restored, to
// repopulate the in-memory Log with the entries past that snapshot.
func (f *LogFile) Replay(fn func(LogEntry) error) error {
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("cannot seek %q: %w", f.path, err)
	}

	r := bufio.NewReader(f.file)

	for {
		var lenBuf [4]byte

		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("cannot read %q: %w", f.path, err)
		}

		size := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, size)

		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("truncated record in %q: %w", f.path, err)
		}

		entry, err := decodeLogEntry(data)
		if err != nil {
			return fmt.Errorf("cannot decode record in %q: %w", f.path, err)
		}

		if err := fn(entry); err != nil {
			return err
		}
	}

	if _, err := f.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("cannot seek %q: %w", f.path, err)
	}

	return nil
}

// Reset replaces the log file with one holding exactly entries, then
// reopens it for appending. It is called
// after a conflict-driven truncation of the in-memory log and after
// snapshot compaction, since the file has no random-access truncation
// primitive of its own: everything still live is rewritten.
func (f *LogFile) Reset(entries []LogEntry) error {
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("cannot close %q: %w", f.path, err)
	}

	tmpPath := f.path + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("cannot create %q: %w", tmpPath, err)
	}

	w := bufio.NewWriter(tmp)

	for _, entry := range entries {
		data, err := encodeLogEntry(entry)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("cannot encode entry: %w", err)
		}

		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))

		if _, err := w.Write(lenBuf[:]); err != nil {
			tmp.Close()
			return err
		}

		if _, err := w.Write(data); err != nil {
			tmp.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot flush %q: %w", tmpPath, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot sync %q: %w", tmpPath, err)
	}

	tmp.Close()

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("cannot rename %q to %q: %w", tmpPath, f.path, err)
	}

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("cannot reopen %q: %w", f.path, err)
	}

	f.file = file
	f.w = bufio.NewWriter(file)

	return nil
}

func encodeLogEntry(entry LogEntry) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%d%c%d%c%s%c", entry.Index, unitSeparator,
		entry.Term, unitSeparator, entry.Command.Type, unitSeparator)
	buf.WriteString(entry.Command.Key)
	buf.WriteByte(unitSeparator)
	buf.WriteString(entry.Command.Value)
	buf.WriteByte(unitSeparator)
	buf.WriteString(entry.CreatedAt.UTC().Format(time.RFC3339Nano))

	return buf.Bytes(), nil
}

func decodeLogEntry(data []byte) (LogEntry, error) {
	parts := bytes.SplitN(data, []byte{unitSeparator}, 6)
	if len(parts) != 6 {
		return LogEntry{}, fmt.Errorf("invalid record: expected 6 fields, got %d",
			len(parts))
	}

	var entry LogEntry

	if _, err := fmt.Sscanf(string(parts[0]), "%d", &entry.Index); err != nil {
		return LogEntry{}, fmt.Errorf("invalid index: %w", err)
	}

	if _, err := fmt.Sscanf(string(parts[1]), "%d", &entry.Term); err != nil {
		return LogEntry{}, fmt.Errorf("invalid term: %w", err)
	}

	entry.Command = Command{
		Type:  CommandType(parts[2]),
		Key:   string(parts[3]),
		Value: string(parts[4]),
	}

	createdAt, err := time.Parse(time.RFC3339Nano, string(parts[5]))
	if err != nil {
		return LogEntry{}, fmt.Errorf("invalid createdAt: %w", err)
	}
	entry.CreatedAt = createdAt

	return entry, nil
}
