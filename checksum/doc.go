// Package checksum computes the CRC values and message digests carried by
// flexible checksum headers and aws-chunked trailers.
//
// The CRC functions continue a previous value so large payloads can be
// checksummed piecewise:
//
//	var crc uint32
//	for _, part := range parts {
//	    crc = checksum.CRC32(part, crc)
//	}
package checksum
