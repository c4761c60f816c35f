// Package fingerprint computes content fingerprints for audio payloads and
// compares them against recent submissions to flag exact and near duplicates
// and rate-based sender patterns.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/bits"
)

// Digest returns the stable content fingerprint: the same bytes always hash
// to the same value, which is what exact-duplicate comparison relies on.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

const (
	shingleSize = 8
	shingleStep = 4
)

// Simhash condenses the payload into a 64-bit similarity hash over sliding
// byte shingles. Payloads differing in small regions land within a few bits
// of each other, so near-duplicate detection reduces to Hamming distance.
func Simhash(payload []byte) uint64 {
	var votes [64]int
	if len(payload) == 0 {
		return 0
	}
	for start := 0; start < len(payload); start += shingleStep {
		end := start + shingleSize
		if end > len(payload) {
			end = len(payload)
		}
		h := fnv.New64a()
		h.Write(payload[start:end])
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				votes[bit]++
			} else {
				votes[bit]--
			}
		}
		if end == len(payload) {
			break
		}
	}
	var out uint64
	for bit := 0; bit < 64; bit++ {
		if votes[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return out
}

// Hamming returns the number of differing bits between two simhashes.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
