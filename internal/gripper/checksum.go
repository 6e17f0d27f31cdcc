package gripper

// crc16 updates a CCITT-16 checksum (reflected polynomial 0x8408) over
// data. The gripper firmware seeds it with 0xFFFF and appends the result
// little-endian, so a complete frame including its trailing checksum
// always sums to zero.
func crc16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
