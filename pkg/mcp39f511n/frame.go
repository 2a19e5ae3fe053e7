// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import "fmt"

// FrameBuilder assembles a request frame.
//
// Wire format:
//
//	[header][length][command sub-frames...][checksum]
//
// The length byte is the total number of bytes in the frame, header and
// checksum included.
type FrameBuilder struct {
	buf      []byte
	commands []Command
}

// NewFrameBuilder starts a new frame with the header and a reserved length byte
func NewFrameBuilder() *FrameBuilder {
	buf := make([]byte, 2, BufferSize)
	buf[0] = HeaderByte
	return &FrameBuilder{buf: buf}
}

// SetAddressPointer appends a set-address-pointer sub-frame
func (f *FrameBuilder) SetAddressPointer(reg Register) *FrameBuilder {
	f.commands = append(f.commands, CmdSetAddressPointer)
	f.buf = append(f.buf, byte(CmdSetAddressPointer), byte(reg>>8), byte(reg))
	return f
}

// RegisterRead appends a read sub-frame for n bytes
func (f *FrameBuilder) RegisterRead(n uint8) *FrameBuilder {
	f.commands = append(f.commands, CmdRegisterRead)
	f.buf = append(f.buf, byte(CmdRegisterRead), n)
	return f
}

// RegisterWrite appends a write sub-frame carrying data
func (f *FrameBuilder) RegisterWrite(data []byte) *FrameBuilder {
	f.commands = append(f.commands, CmdRegisterWrite)
	f.buf = append(f.buf, byte(CmdRegisterWrite), byte(len(data)))
	f.buf = append(f.buf, data...)
	return f
}

// SaveToFlash appends the save-registers-to-flash command
func (f *FrameBuilder) SaveToFlash() *FrameBuilder {
	f.commands = append(f.commands, CmdSaveToFlash)
	f.buf = append(f.buf, byte(CmdSaveToFlash))
	return f
}

// ReadEEPROM appends an EEPROM page read
func (f *FrameBuilder) ReadEEPROM(page uint8) *FrameBuilder {
	f.commands = append(f.commands, CmdReadEEPROM)
	f.buf = append(f.buf, byte(CmdReadEEPROM), page)
	return f
}

// Command returns the last command appended. The reply to a frame is
// classified against it.
func (f *FrameBuilder) Command() Command {
	if len(f.commands) == 0 {
		return 0
	}
	return f.commands[len(f.commands)-1]
}

// Finish writes the length byte and appends the checksum.
// Returns the complete frame ready for transmission.
func (f *FrameBuilder) Finish() ([]byte, error) {
	total := len(f.buf) + 1
	if total > 0xFF {
		return nil, fmt.Errorf("frame too long: %d bytes", total)
	}
	f.buf[1] = byte(total)
	f.buf = append(f.buf, Checksum(f.buf))
	return f.buf, nil
}

// ReadFrame encodes a complete register read request
func ReadFrame(reg Register, n uint8) ([]byte, error) {
	return NewFrameBuilder().SetAddressPointer(reg).RegisterRead(n).Finish()
}

// WriteFrame encodes a complete register write request
func WriteFrame(reg Register, data []byte) ([]byte, error) {
	return NewFrameBuilder().SetAddressPointer(reg).RegisterWrite(data).Finish()
}

// ParsedRequest is a request frame decoded back into its parts.
type ParsedRequest struct {
	Command Command
	Address Register
	Count   uint8
	Data    []byte
	Page    uint8
}

// ParseRequest decodes a request frame produced by FrameBuilder.
// Only frames holding at most one pointer and one action are supported.
func ParseRequest(frame []byte) (*ParsedRequest, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	if frame[0] != HeaderByte {
		return nil, fmt.Errorf("invalid header byte 0x%02X", frame[0])
	}
	if int(frame[1]) != len(frame) {
		return nil, fmt.Errorf("length mismatch: declared=%d, received=%d", frame[1], len(frame))
	}
	if cs := Checksum(frame[:len(frame)-1]); cs != frame[len(frame)-1] {
		return nil, fmt.Errorf("checksum mismatch: expected=0x%02X, received=0x%02X", cs, frame[len(frame)-1])
	}

	req := &ParsedRequest{}
	body := frame[2 : len(frame)-1]
	for len(body) > 0 {
		cmd := Command(body[0])
		switch cmd {
		case CmdSetAddressPointer:
			if len(body) < 3 {
				return nil, fmt.Errorf("truncated %s", cmd)
			}
			req.Address = Register(uint16(body[1])<<8 | uint16(body[2]))
			body = body[3:]
			continue
		case CmdRegisterRead:
			if len(body) < 2 {
				return nil, fmt.Errorf("truncated %s", cmd)
			}
			req.Count = body[1]
			body = body[2:]
		case CmdRegisterWrite:
			if len(body) < 2 || len(body) < 2+int(body[1]) {
				return nil, fmt.Errorf("truncated %s", cmd)
			}
			req.Count = body[1]
			req.Data = append([]byte(nil), body[2:2+int(body[1])]...)
			body = body[2+int(body[1]):]
		case CmdReadEEPROM:
			if len(body) < 2 {
				return nil, fmt.Errorf("truncated %s", cmd)
			}
			req.Page = body[1]
			body = body[2:]
		case CmdSaveToFlash:
			body = body[1:]
		default:
			return nil, fmt.Errorf("unknown command 0x%02X", byte(cmd))
		}
		req.Command = cmd
	}

	if req.Command == 0 {
		return nil, fmt.Errorf("frame carries no action command")
	}
	return req, nil
}
