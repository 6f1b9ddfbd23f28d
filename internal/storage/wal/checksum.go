package wal

// ============================================================================
// Frame Checksum
// Responsibility: Calculate and verify a CRC32 checksum over a record
// frame's payload bytes, so replay can detect a torn or bit-flipped frame
// before handing the record to the application.
// ============================================================================

import "hash/crc32"

// frameChecksum computes the CRC32-IEEE checksum of a record frame's
// payload bytes (the ciphertext, or plaintext for the null module).
func frameChecksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// verifyFrameChecksum reports whether payload's checksum matches want.
func verifyFrameChecksum(payload []byte, want uint32) bool {
	return frameChecksum(payload) == want
}
