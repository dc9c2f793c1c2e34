// Package settings is the byte-addressable persisted store the clock
// keeps its random seed, converter setpoint and alarm configuration in.
// On the original board this was the AVR's EEPROM; here it is a small
// flat file with the same single-byte read/write contract.
package settings

import (
	"os"
	"sync"

	logger "github.com/sirupsen/logrus"
)

// Store layout (byte addresses)
const (
	AddrSeed         = 0 // 4 bytes, little endian
	AddrVoltage      = 4
	AddrAlarmHours   = 5
	AddrAlarmMinutes = 6
	AddrAlarmActive  = 7 // 1 while the alarm is ringing, so a crash resumes it

	// Size of the whole block
	Size = 64
)

// Store reads and writes single bytes at fixed addresses.
type Store interface {
	Read(addr int) byte
	Write(addr int, value byte)
}

// FileStore persists the block to a flat file. Writes flush immediately;
// a failed flush keeps the in-memory byte so the running clock stays
// consistent and the next write retries.
type FileStore struct {
	path string
	mu   sync.Mutex
	data []byte
}

func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make([]byte, Size)}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Infof("No settings at %v, starting from defaults", path)
	case err != nil:
		return nil, err
	default:
		copy(s.data, raw)
	}
	return s, nil
}

func (s *FileStore) Read(addr int) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr < 0 || addr >= len(s.data) {
		return 0
	}
	return s.data[addr]
}

func (s *FileStore) Write(addr int, value byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr < 0 || addr >= len(s.data) {
		return
	}
	if s.data[addr] == value {
		return
	}
	s.data[addr] = value
	if err := os.WriteFile(s.path, s.data, 0o644); err != nil {
		logger.Errorf("Failed to flush settings: %v", err)
	}
}

// ReadSeed assembles the 4-byte random seed.
func ReadSeed(s Store) uint32 {
	return uint32(s.Read(AddrSeed)) |
		uint32(s.Read(AddrSeed+1))<<8 |
		uint32(s.Read(AddrSeed+2))<<16 |
		uint32(s.Read(AddrSeed+3))<<24
}

// WriteSeed stores the 4-byte random seed.
func WriteSeed(s Store, seed uint32) {
	s.Write(AddrSeed, byte(seed&0xFF))
	s.Write(AddrSeed+1, byte(seed>>8&0xFF))
	s.Write(AddrSeed+2, byte(seed>>16&0xFF))
	s.Write(AddrSeed+3, byte(seed>>24&0xFF))
}

// Memory is an in-memory Store for tests.
type Memory struct {
	mu   sync.Mutex
	data [Size]byte
}

func (m *Memory) Read(addr int) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < 0 || addr >= len(m.data) {
		return 0
	}
	return m.data[addr]
}

func (m *Memory) Write(addr int, value byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr < 0 || addr >= len(m.data) {
		return
	}
	m.data[addr] = value
}
