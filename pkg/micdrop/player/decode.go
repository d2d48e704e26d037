package player

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// WAVE_FORMAT_IEEE_FLOAT, go-audio only hands out integer samples
const wavFormatIEEEFloat = 3

// clip is decoded, interleaved audio normalized to [-1, 1]
type clip struct {
	samples  []float32
	channels int
	rate     int
}

func (c *clip) frames() int {
	if c.channels == 0 {
		return 0
	}
	return len(c.samples) / c.channels
}

func decodeFile(path string) (*clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		return decodeWAV(f)
	case ".mp3":
		return decodeMP3(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func decodeWAV(r io.ReadSeeker) (*clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrDecode)
	}

	if d.WavAudioFormat == wavFormatIEEEFloat {
		return nil, fmt.Errorf("%w: floating point wav", ErrUnsupportedFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: read wav samples: %w", ErrDecode, err)
	}

	channels := int(d.NumChans)
	if channels == 0 {
		return nil, fmt.Errorf("%w: wav file declares no channels", ErrDecode)
	}

	samples := make([]float32, len(buf.Data))
	switch d.BitDepth {
	case 8:
		// 8-bit wav is unsigned
		for i, v := range buf.Data {
			samples[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (d.BitDepth - 1))
		for i, v := range buf.Data {
			samples[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("%w: unsupported wav bit depth %d", ErrDecode, d.BitDepth)
	}

	return &clip{
		samples:  samples,
		channels: channels,
		rate:     int(d.SampleRate),
	}, nil
}

func decodeMP3(r io.Reader) (*clip, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	// go-mp3 always yields 16-bit little endian stereo
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("%w: read mp3 frames: %w", ErrDecode, err)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}

	return &clip{
		samples:  samples,
		channels: 2,
		rate:     d.SampleRate(),
	}, nil
}

// convert maps c onto the output layout, upmixing mono, dropping channels
// beyond the second and resampling linearly
func convert(c *clip, rate, channels int) []float32 {
	inFrames := c.frames()
	if inFrames == 0 || c.rate <= 0 {
		return nil
	}

	outFrames := int(int64(inFrames) * int64(rate) / int64(c.rate))
	out := make([]float32, outFrames*channels)

	step := float64(c.rate) / float64(rate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := float32(pos - float64(j))

		next := j + 1
		if next >= inFrames {
			next = inFrames - 1
		}

		for ch := 0; ch < channels; ch++ {
			src := ch
			if src >= c.channels {
				src = c.channels - 1
			}

			a := c.samples[j*c.channels+src]
			b := c.samples[next*c.channels+src]
			out[i*channels+ch] = a + (b-a)*frac
		}
	}

	return out
}
