package checksum

import (
	"hash/crc32"
	"hash/crc64"
)

// crc64NVMEPoly is the bit-reversed CRC-64/NVME polynomial.
const crc64NVMEPoly = 0x9a6c9329ac4bc9b5

var (
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
	nvme       = crc64.MakeTable(crc64NVMEPoly)
)

// CRC32 continues the IEEE CRC-32 previous over buf. Start with zero.
func CRC32(buf []byte, previous uint32) uint32 {
	return crc32.Update(previous, crc32.IEEETable, buf)
}

// CRC32C continues the Castagnoli CRC-32C previous over buf. Start with
// zero.
func CRC32C(buf []byte, previous uint32) uint32 {
	return crc32.Update(previous, castagnoli, buf)
}

// CRC64NVME continues the CRC-64/NVME previous over buf. Start with zero.
func CRC64NVME(buf []byte, previous uint64) uint64 {
	return crc64.Update(previous, nvme, buf)
}
