// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"bytes"
	"math/rand"
	"testing"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_Empty(t *testing.T) {
	if cs := Checksum(nil); cs != 0 {
		t.Errorf("Checksum(nil) = 0x%02X, want 0x00", cs)
	}
}

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{"single byte", []byte{0x42}, 0x42},
		{"wraps modulo 256", []byte{0xFF, 0x02}, 0x01},
		{"read system status block", []byte{0xA5, 0x08, 0x41, 0x00, 0x02, 0x4E, 0x20}, 0x5E},
		{"save to flash", []byte{0xA5, 0x04, 0x53}, 0xFC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum(%X) = 0x%02X, want 0x%02X", tt.data, got, tt.want)
			}
		})
	}
}

func TestChecksum_PermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		data := make([]byte, 1+rng.Intn(40))
		rng.Read(data)

		want := Checksum(data)
		shuffled := append([]byte(nil), data...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		if got := Checksum(shuffled); got != want {
			t.Fatalf("Checksum changed under reordering: %X -> 0x%02X, %X -> 0x%02X", data, want, shuffled, got)
		}
		if again := Checksum(data); again != want {
			t.Fatalf("Checksum not deterministic for %X", data)
		}
	}
}

// ============================================================
// Frame Encoding Tests
// ============================================================

func TestReadFrame(t *testing.T) {
	frame, err := ReadFrame(RegSystemStatus, 32)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	want := []byte{0xA5, 0x08, 0x41, 0x00, 0x02, 0x4E, 0x20, 0x5E}
	if !bytes.Equal(frame, want) {
		t.Errorf("ReadFrame = % X, want % X", frame, want)
	}
}

func TestWriteFrame(t *testing.T) {
	frame, err := WriteFrame(RegGainVolts, []byte{0x34, 0x12})
	if err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	want := []byte{0xA5, 0x0A, 0x41, 0x00, 0x88, 0x4D, 0x02, 0x34, 0x12, 0x0D}
	if !bytes.Equal(frame, want) {
		t.Errorf("WriteFrame = % X, want % X", frame, want)
	}
}

func TestFrameBuilder_SaveToFlash(t *testing.T) {
	fb := NewFrameBuilder().SaveToFlash()
	frame, err := fb.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	want := []byte{0xA5, 0x04, 0x53, 0xFC}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = % X, want % X", frame, want)
	}
	if fb.Command() != CmdSaveToFlash {
		t.Errorf("Command() = %s, want %s", fb.Command(), CmdSaveToFlash)
	}
}

func TestFrameBuilder_LengthIncludesHeaderAndChecksum(t *testing.T) {
	frame, err := NewFrameBuilder().ReadEEPROM(3).Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if int(frame[1]) != len(frame) {
		t.Errorf("length byte = %d, frame is %d bytes", frame[1], len(frame))
	}
	if frame[len(frame)-1] != Checksum(frame[:len(frame)-1]) {
		t.Errorf("trailing checksum does not cover the frame")
	}
}

func TestParseRequest_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame func() ([]byte, error)
		want  ParsedRequest
	}{
		{
			name:  "register read",
			frame: func() ([]byte, error) { return ReadFrame(RegImportActiveEnergy1, 32) },
			want:  ParsedRequest{Command: CmdRegisterRead, Address: RegImportActiveEnergy1, Count: 32},
		},
		{
			name:  "register write",
			frame: func() ([]byte, error) { return WriteFrame(RegRange1, []byte{1, 2, 3, 0}) },
			want:  ParsedRequest{Command: CmdRegisterWrite, Address: RegRange1, Count: 4, Data: []byte{1, 2, 3, 0}},
		},
		{
			name:  "eeprom page",
			frame: func() ([]byte, error) { return NewFrameBuilder().ReadEEPROM(7).Finish() },
			want:  ParsedRequest{Command: CmdReadEEPROM, Page: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := tt.frame()
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			got, err := ParseRequest(frame)
			if err != nil {
				t.Fatalf("ParseRequest failed: %v", err)
			}
			if got.Command != tt.want.Command || got.Address != tt.want.Address ||
				got.Count != tt.want.Count || got.Page != tt.want.Page || !bytes.Equal(got.Data, tt.want.Data) {
				t.Errorf("ParseRequest = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseRequest_Invalid(t *testing.T) {
	good, _ := ReadFrame(RegVolts, 4)

	badChecksum := append([]byte(nil), good...)
	badChecksum[len(badChecksum)-1]++

	badLength := append([]byte(nil), good...)
	badLength[1] = 0x20

	badHeader := append([]byte(nil), good...)
	badHeader[0] = 0x00

	for name, frame := range map[string][]byte{
		"too short":    {0xA5, 0x03},
		"bad checksum": badChecksum,
		"bad length":   badLength,
		"bad header":   badHeader,
	} {
		if _, err := ParseRequest(frame); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// ============================================================
// Reply Classification Tests
// ============================================================

func TestClassify(t *testing.T) {
	valid := dataReply([]byte{0x01, 0x02, 0x03, 0x04})

	tests := []struct {
		name        string
		cmd         Command
		buf         []byte
		wantStatus  Status
		wantForeign bool
	}{
		{"empty", CmdRegisterRead, nil, StatusIncomplete, false},
		{"lone ack on read", CmdRegisterRead, []byte{AckByte}, StatusTooShort, false},
		{"ack and count on read", CmdRegisterRead, []byte{AckByte, 0x07}, StatusTooShort, false},
		{"partial read reply", CmdRegisterRead, valid[:4], StatusIncomplete, false},
		{"complete read reply", CmdRegisterRead, valid, StatusComplete, false},
		{"complete eeprom reply", CmdReadEEPROM, valid, StatusComplete, false},
		{"lone ack on write", CmdRegisterWrite, []byte{AckByte}, StatusComplete, false},
		{"lone ack on save", CmdSaveToFlash, []byte{AckByte}, StatusComplete, false},
		{"nack", CmdRegisterRead, []byte{NackByte}, StatusRejected, false},
		{"nack with device id", CmdRegisterWrite, []byte{NackByte, DeviceIDByte}, StatusRejected, false},
		{"nack from foreign device", CmdRegisterRead, []byte{NackByte, 0x12, 0x34}, StatusRejected, true},
		{"csfail", CmdRegisterRead, []byte{CSFailByte}, StatusChecksumMismatchOnSend, false},
		{"noise", CmdRegisterRead, []byte{0x00, 0x11}, StatusIncomplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.cmd, tt.buf)
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.UnexpectedDevice != tt.wantForeign {
				t.Errorf("UnexpectedDevice = %v, want %v", got.UnexpectedDevice, tt.wantForeign)
			}
		})
	}
}

func TestClassify_ShortReplyNeverComplete(t *testing.T) {
	for _, cmd := range []Command{CmdRegisterRead, CmdReadEEPROM} {
		for b0 := 0; b0 < 256; b0++ {
			for _, buf := range [][]byte{{byte(b0)}, {byte(b0), 0x03}} {
				if got := Classify(cmd, buf); got.Status == StatusComplete {
					t.Fatalf("Classify(%s, % X) = COMPLETE", cmd, buf)
				}
			}
		}
	}
}

func TestClassifyLength(t *testing.T) {
	four := dataReply([]byte{0x01, 0x02, 0x03, 0x04})
	long := append(append(Reply(nil), four...), 0x00)
	declaredTooBig := dataReply(make([]byte, 6))

	tests := []struct {
		name string
		cmd  Command
		buf  []byte
		want int
		exp  Status
	}{
		{"exact", CmdRegisterRead, four, 4, StatusComplete},
		{"no data for 32-byte read", CmdRegisterRead, dataReply(nil), MaxReadSize, StatusLengthMismatch},
		{"fewer bytes than requested", CmdRegisterRead, four, 6, StatusLengthMismatch},
		{"declared more than requested", CmdRegisterRead, declaredTooBig[:4], 4, StatusLengthMismatch},
		{"trailing byte", CmdRegisterRead, long, 4, StatusLengthMismatch},
		{"partial with right length", CmdRegisterRead, four[:5], 4, StatusIncomplete},
		{"half eeprom page", CmdReadEEPROM, dataReply(make([]byte, 8)), DefaultEEPROMPageBytes, StatusLengthMismatch},
		{"full eeprom page", CmdReadEEPROM, dataReply(make([]byte, 16)), DefaultEEPROMPageBytes, StatusComplete},
		{"check skipped", CmdRegisterRead, four, -1, StatusComplete},
		{"write ack", CmdRegisterWrite, []byte{AckByte}, 0, StatusComplete},
		{"nack", CmdRegisterRead, []byte{NackByte}, 4, StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyLength(tt.cmd, tt.buf, tt.want); got.Status != tt.exp {
				t.Errorf("Status = %s, want %s", got.Status, tt.exp)
			}
		})
	}
}

func TestClassify_SingleByteMutation(t *testing.T) {
	for n := 1; n <= MaxReadSize; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i*7 + n)
		}
		reply := dataReply(data)

		if got := Classify(CmdRegisterRead, reply); got.Status != StatusComplete {
			t.Fatalf("n=%d: valid reply classified %s", n, got.Status)
		}

		for i := DataOffset; i < len(reply)-1; i++ {
			mutated := append([]byte(nil), reply...)
			mutated[i] ^= 0x5A
			if got := Classify(CmdRegisterRead, mutated); got.Status != StatusChecksumMismatch {
				t.Fatalf("n=%d: mutating byte %d gave %s, want CHECKSUM_MISMATCH", n, i, got.Status)
			}
		}
	}
}

// ============================================================
// Numeric Decoder Tests
// ============================================================

func TestReply_Uint16(t *testing.T) {
	r := Reply{AckByte, 0x05, 0x34, 0x12, 0x00}
	if got := r.Uint16(0); got != 0x1234 {
		t.Errorf("Uint16(0) = 0x%04X, want 0x1234", got)
	}
}

func TestReply_Uint32(t *testing.T) {
	r := dataReply([]byte{0x00, 0x00, 0x78, 0x56, 0x34, 0x12})
	if got := r.Uint32(2); got != 0x12345678 {
		t.Errorf("Uint32(2) = 0x%08X, want 0x12345678", got)
	}
}

func TestReply_Uint64(t *testing.T) {
	r := dataReply(bytes.Repeat([]byte{0xFF}, 8))
	if got := r.Uint64(0); got != 0xFFFFFFFFFFFFFFFF {
		t.Errorf("Uint64(0) = 0x%016X, want all ones", got)
	}

	r = dataReply([]byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01})
	if got := r.Uint64(0); got != 0x0102030405060708 {
		t.Errorf("Uint64(0) = 0x%016X, want 0x0102030405060708", got)
	}
}

func TestReply_OutOfRangeReadsZero(t *testing.T) {
	r := Reply{AckByte, 0x04, 0xAB, 0x00}
	if got := r.Uint32(10); got != 0 {
		t.Errorf("Uint32 past the reply = 0x%X, want 0", got)
	}
}

func TestReply_Data(t *testing.T) {
	r := dataReply([]byte{1, 2, 3})
	if !bytes.Equal(r.Data(), []byte{1, 2, 3}) {
		t.Errorf("Data() = % X", r.Data())
	}
	if Reply([]byte{AckByte}).Data() != nil {
		t.Errorf("Data() of a lone ACK should be nil")
	}
}

func TestExtractByte(t *testing.T) {
	v := uint32(0x44332211)
	for n, want := range []uint8{0x11, 0x22, 0x33, 0x44} {
		if got := ExtractByte(v, n); got != want {
			t.Errorf("ExtractByte(0x%08X, %d) = 0x%02X, want 0x%02X", v, n, got, want)
		}
	}
	if got := ExtractByte(v, 4); got != 0 {
		t.Errorf("ExtractByte out of range = 0x%02X, want 0", got)
	}
}
