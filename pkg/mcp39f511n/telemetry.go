// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{
		Time: cbor.TimeUnixMicro,
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("mcp39f511n: cbor encoder: %v", err))
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("mcp39f511n: cbor decoder: %v", err))
	}
}

// MarshalCBOR encodes a reading as a compact integer-keyed CBOR map
func (r Reading) MarshalCBOR() ([]byte, error) {
	type plain Reading
	data, err := cborEnc.Marshal(plain(r))
	if err != nil {
		return nil, fmt.Errorf("failed to encode reading: %w", err)
	}
	return data, nil
}

// DecodeReading decodes a reading produced by MarshalCBOR
func DecodeReading(data []byte) (Reading, error) {
	type plain Reading
	var p plain
	if err := cborDec.Unmarshal(data, &p); err != nil {
		return Reading{}, fmt.Errorf("failed to decode reading: %w", err)
	}
	return Reading(p), nil
}

// EncodeCalibration encodes calibration registers as CBOR
func EncodeCalibration(c Calibration) ([]byte, error) {
	data, err := cborEnc.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode calibration: %w", err)
	}
	return data, nil
}
