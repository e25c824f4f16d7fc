package raft

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// PersistentStore durably stores the node's PersistentState. Writes go
// through a temporary file, fsynced and renamed into place, so a crash
// mid-write can never leave a torn or half-written state file behind.
type PersistentStore struct {
	filePath string
	file     *os.File
}

func NewPersistentStore(filePath string) *PersistentStore {
	return &PersistentStore{
		filePath: filePath,
	}
}

func (s *PersistentStore) Open() error {
	flags := os.O_RDWR | os.O_CREATE
	file, err := os.OpenFile(s.filePath, flags, 0600)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", s.filePath, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return fmt.Errorf("cannot stat %q: %w", s.filePath, err)
	}

	s.file = file

	if info.Size() == 0 {
		if err := s.Write(PersistentState{}); err != nil {
			file.Close()

			return fmt.Errorf("cannot write default state to %q: %w",
				s.filePath, err)
		}
	}

	return nil
}

func (s *PersistentStore) Close() {
	s.file.Close()
}

func (s *PersistentStore) Read(state *PersistentState) error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("cannot seek %q: %w", s.filePath, err)
	}

	d := json.NewDecoder(s.file)
	if err := d.Decode(state); err != nil {
		return fmt.Errorf("cannot read json data from %q: %w",
			s.filePath, err)
	}

	return nil
}

// Write durably persists state: it is marshalled to a sibling temp
// file, fsynced, then renamed over filePath. The rename is atomic on
// any POSIX filesystem, so a reader never observes a partial write.
func (s *PersistentStore) Write(state PersistentState) error {
	tmpPath := s.filePath + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("cannot create %q: %w", tmpPath, err)
	}

	e := json.NewEncoder(tmp)
	if err := e.Encode(&state); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write json data to %q: %w", tmpPath, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot sync %q: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot close %q: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("cannot rename %q to %q: %w", tmpPath, s.filePath, err)
	}

	// The rename landed a brand new inode under filePath; reopen our
	// handle so subsequent Read calls see it.
	file, err := os.OpenFile(s.filePath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("cannot reopen %q: %w", s.filePath, err)
	}

	s.file.Close()
	s.file = file

	return nil
}
