package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/gameweaver/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{1, 2, 3, 4, 5})
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: 22050, Channels: 1})

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"RIFF", string(wav[0:4]), "RIFF"},
		{"WAVE", string(wav[8:12]), "WAVE"},
		{"fmt", string(wav[12:16]), "fmt "},
		{"data", string(wav[36:40]), "data"},
		{"chunk size", binary.LittleEndian.Uint32(wav[4:8]), uint32(36 + len(pcm))},
		{"audio format", binary.LittleEndian.Uint16(wav[20:22]), uint16(1)},
		{"channels", binary.LittleEndian.Uint16(wav[22:24]), uint16(1)},
		{"sample rate", binary.LittleEndian.Uint32(wav[24:28]), uint32(22050)},
		{"byte rate", binary.LittleEndian.Uint32(wav[28:32]), uint32(44100)},
		{"block align", binary.LittleEndian.Uint16(wav[32:34]), uint16(2)},
		{"bits", binary.LittleEndian.Uint16(wav[34:36]), uint16(16)},
		{"data size", binary.LittleEndian.Uint32(wav[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if string(wav[44:]) != string(pcm) {
		t.Error("payload differs from input PCM")
	}
}

func TestEncodeWAV_DefaultsToMono(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(nil, audio.Format{SampleRate: 24000})
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if len(wav) != 44 {
		t.Errorf("len = %d, want 44", len(wav))
	}
}
