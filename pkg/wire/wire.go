/*
SPDX-FileCopyrightText: Copyright (c) 2026 LSAP-HW4 Authors. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

// Package wire implements the binary message formats exchanged with the
// shooter game server.
//
// Every message is one complete WebSocket binary frame starting with a
// one-byte tag. All multi-byte values are little-endian, strings are
// NUL-terminated UTF-8.
//
// Client → server:
//
//	Init:  [TagInit][build-hash][0x00][password][0x00]
//	Input: [TagInput][flags:1][aimX:f32][aimY:f32][moveX:f32][moveY:f32]
//	Spawn: [TagSpawn][name][0x00]
//
// Server → client frames are treated as opaque: the client only inspects
// the leading tag byte to recognize the handshake accept (7) and
// spawn/update events (0 or 2). Frames shorter than one byte are ignored,
// never an error.
package wire

import (
	"encoding/binary"
	"math"
	"math/rand"
)

// Client → server message tags.
const (
	TagInit  byte = 0
	TagInput byte = 1
	TagSpawn byte = 2
)

// Server → client leading bytes the client recognizes.
const (
	TagEventSpawn  byte = 0
	TagEventUpdate byte = 2
	TagAccept      byte = 7
)

// Input flag bits.
const (
	FlagLeftClick uint8 = 1 << 0
	FlagUp        uint8 = 1 << 1
	FlagLeft      uint8 = 1 << 2
	FlagDown      uint8 = 1 << 3
	FlagRight     uint8 = 1 << 4
)

// BuildHash is the protocol build identifier the server expects in Init.
const BuildHash = "6f59094d60f98fafc14371671d3ff31ef4d75d9e"

// InputFrameSize is the encoded length of an Input message.
const InputFrameSize = 1 + 1 + 4*4

// InputCommand is one tick's worth of simulated player input. Aim axes are
// in [-1, 1], move axes in [-0.5, 0.5].
type InputCommand struct {
	Flags uint8
	AimX  float32
	AimY  float32
	MoveX float32
	MoveY float32
}

// EncodeInit encodes an Init message. Encoding never fails for well-formed
// inputs; embedded NUL bytes in the strings would corrupt the framing and
// are the caller's responsibility to avoid.
func EncodeInit(buildHash, password string) []byte {
	buf := make([]byte, 0, 1+len(buildHash)+1+len(password)+1)
	buf = append(buf, TagInit)
	buf = append(buf, buildHash...)
	buf = append(buf, 0)
	buf = append(buf, password...)
	buf = append(buf, 0)
	return buf
}

// EncodeSpawn encodes a Spawn message carrying the player name.
func EncodeSpawn(name string) []byte {
	buf := make([]byte, 0, 1+len(name)+1)
	buf = append(buf, TagSpawn)
	buf = append(buf, name...)
	buf = append(buf, 0)
	return buf
}

// EncodeInput encodes an Input message as an 18-byte frame.
func EncodeInput(cmd InputCommand) []byte {
	buf := make([]byte, InputFrameSize)
	buf[0] = TagInput
	buf[1] = cmd.Flags
	binary.LittleEndian.PutUint32(buf[2:], math.Float32bits(cmd.AimX))
	binary.LittleEndian.PutUint32(buf[6:], math.Float32bits(cmd.AimY))
	binary.LittleEndian.PutUint32(buf[10:], math.Float32bits(cmd.MoveX))
	binary.LittleEndian.PutUint32(buf[14:], math.Float32bits(cmd.MoveY))
	return buf
}

// Tag returns the leading tag byte of a frame and whether one is present.
// Empty frames report ok=false and are ignored by callers.
func Tag(frame []byte) (byte, bool) {
	if len(frame) == 0 {
		return 0, false
	}
	return frame[0], true
}

// IsAccept reports whether the frame is a handshake acknowledgment.
func IsAccept(frame []byte) bool {
	tag, ok := Tag(frame)
	return ok && tag == TagAccept
}

// IsSpawnEvent reports whether the frame signals that the player entered
// the game (spawn or world-update event).
func IsSpawnEvent(frame []byte) bool {
	tag, ok := Tag(frame)
	return ok && (tag == TagEventSpawn || tag == TagEventUpdate)
}

var movementFlags = []uint8{FlagLeftClick, FlagUp, FlagLeft, FlagDown, FlagRight}

// RandomInput generates one randomized input command: 50% chance of no
// flags, otherwise a single uniformly chosen movement/action flag, with all
// four axes uniform in their documented ranges.
func RandomInput(rng *rand.Rand) InputCommand {
	var flags uint8
	if rng.Float64() > 0.5 {
		flags = movementFlags[rng.Intn(len(movementFlags))]
	}
	return InputCommand{
		Flags: flags,
		AimX:  float32(rng.Float64()*2 - 1),
		AimY:  float32(rng.Float64()*2 - 1),
		MoveX: float32(rng.Float64() - 0.5),
		MoveY: float32(rng.Float64() - 0.5),
	}
}
