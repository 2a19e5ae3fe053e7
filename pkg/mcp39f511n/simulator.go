// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"sync"
	"time"
)

// simRegisterSpace covers every register the driver addresses
const simRegisterSpace = 0x0200

// Fault is a misbehaviour the simulator injects into its next replies
type Fault int

const (
	FaultNone Fault = iota
	// FaultSilent drops the reply entirely
	FaultSilent
	// FaultCorruptChecksum flips the reply checksum
	FaultCorruptChecksum
	// FaultNack answers with a NACK
	FaultNack
	// FaultForeignNack answers with a NACK carrying a foreign identity byte
	FaultForeignNack
	// FaultCSFail answers as if the request checksum was wrong
	FaultCSFail
	// FaultTruncate sends only the first two reply bytes
	FaultTruncate
	// FaultOverflow pads the reply past the buffer capacity
	FaultOverflow
	// FaultShortData sends a well-formed data reply one byte short of
	// the requested count
	FaultShortData
)

// Simulator is an in-memory MCP39F511N that implements Transport.
//
// Requests written to it are parsed and executed against a register
// space; the reply is queued and handed out by ReadTimeout, optionally in
// chunks separated by a delay.
type Simulator struct {
	mu      sync.Mutex
	regs    [simRegisterSpace]byte
	eeprom  map[uint8][]byte
	pending []byte
	readyAt time.Time

	chunkSize  int
	chunkDelay time.Duration
	replyDelay time.Duration

	fault      Fault
	faultCount int
	faultSkip  int

	requests   [][]byte
	flashSaves int
}

// NewSimulator creates a simulator preloaded with a plausible 230 V / 50 Hz
// operating point and factory calibration
func NewSimulator() *Simulator {
	s := &Simulator{eeprom: make(map[uint8][]byte)}

	s.SetRegister16(RegSystemStatus, 0)
	s.SetRegister16(RegSystemVersion, 0x0102)
	s.SetRegister16(RegVolts, 2301)
	s.SetRegister16(RegLineFrequency, 50012)
	s.SetRegister16(RegPowerFactor1, 0x7A00)
	s.SetRegister16(RegPowerFactor2, 0x6000)
	s.SetRegister32(RegCurrentRMS1, 1234)
	s.SetRegister32(RegCurrentRMS2, 456)
	s.SetRegister32(RegActivePower1, 270100)
	s.SetRegister32(RegActivePower2, 78500)
	s.SetRegister32(RegReactivePower1, 41000)
	s.SetRegister32(RegReactivePower2, 60200)
	s.SetRegister64(RegImportActiveEnergy1, 1000000)
	s.SetRegister64(RegImportActiveEnergy2, 250000)

	for i, reg := range GainRegisters {
		s.SetRegister16(reg, 0x8000+uint16(i))
	}
	s.SetRange(RegRange1, Range{Volt: 0x12, Amp: 0x0A, Power: 0x10})
	s.SetRange(RegRange2, Range{Volt: 0x12, Amp: 0x0B, Power: 0x11})
	s.SetRegister16(RegDivisorDigits1, 3)
	s.SetRegister16(RegDivisorDigits2, 3)

	return s
}

// SetRegister16 stores a little-endian 16-bit value
func (s *Simulator) SetRegister16(reg Register, v uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLE(reg, 2, uint64(v))
}

// SetRegister32 stores a little-endian 32-bit value
func (s *Simulator) SetRegister32(reg Register, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLE(reg, 4, uint64(v))
}

// SetRegister64 stores a little-endian 64-bit value
func (s *Simulator) SetRegister64(reg Register, v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLE(reg, 8, v)
}

// SetRange stores a range register
func (s *Simulator) SetRange(reg Register, r Range) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.regs[reg:], r.bytes())
}

// SetEEPROMPage stores the contents of an EEPROM page
func (s *Simulator) SetEEPROMPage(page uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := make([]byte, DefaultEEPROMPageBytes)
	copy(p, data)
	s.eeprom[page] = p
}

// Register16 returns a 16-bit register value
func (s *Simulator) Register16(reg Register) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint16(s.le(reg, 2))
}

// Register64 returns a 64-bit register value
func (s *Simulator) Register64(reg Register) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.le(reg, 8)
}

// SetChunking delivers replies size bytes at a time, each chunk becoming
// readable delay after the previous one. size 0 delivers whole replies.
func (s *Simulator) SetChunking(size int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkSize = size
	s.chunkDelay = delay
}

// SetReplyDelay delays the first reply byte
func (s *Simulator) SetReplyDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyDelay = d
}

// InjectFault applies f to the next count requests. A negative count
// applies it until cleared with FaultNone.
func (s *Simulator) InjectFault(f Fault, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
	s.faultCount = count
	s.faultSkip = 0
}

// InjectFaultAfter lets after requests through untouched, then applies f
// to the following count requests
func (s *Simulator) InjectFaultAfter(after int, f Fault, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
	s.faultCount = count
	s.faultSkip = after
}

// Requests returns a copy of every frame written to the simulator
func (s *Simulator) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	for i, r := range s.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// FlashSaves returns how many save-to-flash commands were executed
func (s *Simulator) FlashSaves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flashSaves
}

// Accumulate advances the energy counters as if the current active power
// had flowed for d
func (s *Simulator) Accumulate(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step := func(power Register, signBit uint16, imp, exp Register) {
		// raw power has 3 decimals, counters are in mWh
		delta := s.le(power, 4) * uint64(d.Milliseconds()) / 3600000
		target := imp
		if uint16(s.le(RegSystemStatus, 2))&signBit != 0 {
			target = exp
		}
		s.putLE(target, 8, s.le(target, 8)+delta)
	}
	step(RegActivePower1, SignPACh1, RegImportActiveEnergy1, RegExportActiveEnergy1)
	step(RegActivePower2, SignPACh2, RegImportActiveEnergy2, RegExportActiveEnergy2)
}

func (s *Simulator) le(reg Register, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(s.regs[int(reg)+i]) << (8 * i)
	}
	return v
}

func (s *Simulator) putLE(reg Register, n int, v uint64) {
	for i := 0; i < n; i++ {
		s.regs[int(reg)+i] = byte(v >> (8 * i))
	}
}

// Write implements Transport
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, append([]byte(nil), p...))
	s.pending = s.respond(p)
	s.readyAt = time.Now().Add(s.replyDelay)
	return len(p), nil
}

// ResetInputBuffer implements InputResetter by dropping any queued reply
func (s *Simulator) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	return nil
}

// ReadTimeout implements Transport
func (s *Simulator) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}

	if wait := time.Until(s.readyAt); wait > 0 {
		s.mu.Unlock()
		if wait > timeout {
			time.Sleep(timeout)
			return 0, nil
		}
		time.Sleep(wait)
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	n := len(s.pending)
	if s.chunkSize > 0 && n > s.chunkSize {
		n = s.chunkSize
	}
	n = copy(p, s.pending[:n])
	s.pending = s.pending[n:]
	s.readyAt = time.Now().Add(s.chunkDelay)
	return n, nil
}

// respond executes a request and builds the reply bytes
func (s *Simulator) respond(frame []byte) []byte {
	fault := s.takeFault()

	req, err := ParseRequest(frame)
	if err != nil {
		if len(frame) > 0 && Checksum(frame[:len(frame)-1]) != frame[len(frame)-1] {
			return []byte{CSFailByte}
		}
		return []byte{NackByte}
	}

	switch fault {
	case FaultSilent:
		return nil
	case FaultNack:
		return []byte{NackByte}
	case FaultForeignNack:
		return []byte{NackByte, 0x42}
	case FaultCSFail:
		return []byte{CSFailByte}
	}

	var reply []byte
	switch req.Command {
	case CmdRegisterRead:
		end := int(req.Address) + int(req.Count)
		if req.Count == 0 || end > simRegisterSpace {
			return []byte{NackByte}
		}
		reply = dataReply(s.regs[req.Address:end])
	case CmdRegisterWrite:
		end := int(req.Address) + len(req.Data)
		if end > simRegisterSpace {
			return []byte{NackByte}
		}
		copy(s.regs[req.Address:end], req.Data)
		reply = []byte{AckByte}
	case CmdSaveToFlash:
		s.flashSaves++
		reply = []byte{AckByte}
	case CmdReadEEPROM:
		page, ok := s.eeprom[req.Page]
		if !ok {
			page = make([]byte, DefaultEEPROMPageBytes)
			for i := range page {
				page[i] = 0xFF
			}
		}
		reply = dataReply(page)
	default:
		return []byte{NackByte}
	}

	switch fault {
	case FaultCorruptChecksum:
		reply[len(reply)-1] ^= 0xFF
	case FaultTruncate:
		if len(reply) > 2 {
			reply = reply[:2]
		}
	case FaultOverflow:
		reply = append(reply, make([]byte, BufferSize)...)
	case FaultShortData:
		if len(reply) > DataOffset+1 {
			reply = dataReply(reply[DataOffset : len(reply)-2])
		}
	}
	return reply
}

func (s *Simulator) takeFault() Fault {
	if s.fault == FaultNone || s.faultCount == 0 {
		return FaultNone
	}
	if s.faultSkip > 0 {
		s.faultSkip--
		return FaultNone
	}
	f := s.fault
	if s.faultCount > 0 {
		s.faultCount--
		if s.faultCount == 0 {
			s.fault = FaultNone
		}
	}
	return f
}

// dataReply frames data as an ACK reply: [ACK][count][data...][checksum]
func dataReply(data []byte) Reply {
	reply := make(Reply, 0, len(data)+3)
	reply = append(reply, AckByte, byte(len(data)+3))
	reply = append(reply, data...)
	return append(reply, Checksum(reply))
}
