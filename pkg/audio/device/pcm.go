package device

// int16ToBytes copies int16 samples into a fresh little-endian byte slice.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// bytesToInt16 decodes little-endian PCM bytes into dst. It returns the
// number of samples written; a trailing odd byte is ignored.
func bytesToInt16(dst []int16, src []byte) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(src[i*2]) | int16(src[i*2+1])<<8
	}
	return n
}
