// Package strkey validates the checked base32 encoding used for ledger
// account keys.
package strkey

import (
	"encoding/base32"
	"encoding/binary"
)

// accountVersionByte is the version byte for ed25519 public keys ('G' prefix).
const accountVersionByte = 6 << 3

// encodedAccountKeyLen is the length of an encoded account key.
const encodedAccountKeyLen = 56

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// IsValidAccountKey reports whether key is a well-formed account public key:
// 56 characters, 'G' version byte, ed25519 payload length, valid CRC16
// checksum.
func IsValidAccountKey(key string) bool {
	if len(key) != encodedAccountKeyLen {
		return false
	}

	raw, err := encoding.DecodeString(key)
	if err != nil {
		return false
	}

	// version byte + 32-byte payload + 2-byte checksum
	if len(raw) != 35 {
		return false
	}
	if raw[0] != accountVersionByte {
		return false
	}

	expected := binary.LittleEndian.Uint16(raw[33:])
	return crc16(raw[:33]) == expected
}

// crc16 computes the CRC16-XModem checksum (polynomial 0x1021) over data.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
