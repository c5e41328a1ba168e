package audio

import "encoding/binary"

// Float32Mono decodes little-endian 16-bit PCM with the given number of
// interleaved channels into mono samples in [-1, 1]. Channels of a frame are
// averaged and a trailing partial frame is dropped.
func Float32Mono(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	frameSize := 2 * channels
	out := make([]float32, len(pcm)/frameSize)
	for i := range out {
		frame := pcm[i*frameSize : (i+1)*frameSize]
		var sum float32
		for off := 0; off < frameSize; off += 2 {
			sum += float32(int16(binary.LittleEndian.Uint16(frame[off:])))
		}
		out[i] = sum / float32(channels) / 32768
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate with linear
// interpolation. Equal or invalid rates return samples as is.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, n)
	step := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
