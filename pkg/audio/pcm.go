// Package audio holds the PCM helpers used by the voice relay: format
// conversion of inbound client audio and WAV framing of outbound speech.
//
// All sample data is little-endian signed 16-bit PCM.
package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Chunk is a block of PCM samples in a known format.
type Chunk struct {
	Data   []byte
	Format Format
}

// Converter brings chunks into a target mono or stereo format. It warns once
// on the first mismatch. Create one per stream.
type Converter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns c in the target format. A chunk already in the target
// format is returned as is. A chunk with an odd byte count cannot be int16
// PCM and yields nil data. Zero fields in c.Format are taken from the target.
func (cv *Converter) Convert(c Chunk) Chunk {
	if c.Format.SampleRate == 0 {
		c.Format.SampleRate = cv.Target.SampleRate
	}
	if c.Format.Channels == 0 {
		c.Format.Channels = cv.Target.Channels
	}
	if len(c.Data)%2 != 0 {
		cv.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM chunk, dropping", "bytes", len(c.Data), "format", c.Format)
		})
		return Chunk{Format: cv.Target}
	}
	if c.Format == cv.Target {
		return c
	}
	cv.warnedMismatch.Do(func() {
		slog.Info("audio: converting input", "from", c.Format, "to", cv.Target)
	})

	pcm := c.Data
	// Downmix before resampling so only one channel is interpolated.
	if c.Format.Channels == 2 && cv.Target.Channels == 1 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, c.Format.SampleRate, cv.Target.SampleRate)
	if c.Format.Channels == 1 && cv.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return Chunk{Data: pcm, Format: cv.Target}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R frame.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples mono PCM from src to dst Hz using linear
// interpolation. Invalid rates or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, src, dst int) []byte {
	if src <= 0 || dst <= 0 || src == dst || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(dst) / int64(src))
	if outN == 0 {
		return nil
	}

	out := make([]byte, outN*2)
	ratio := float64(src) / float64(dst)
	for i := range outN {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < n {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}
