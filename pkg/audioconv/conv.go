package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// SampleRate is the house rate: everything downstream (playback level
// metering, whisper) expects mono float32 at 16 kHz.
const SampleRate = 16000

type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOgg  Format = "ogg"
	FormatAuto Format = "" // sniff from the magic bytes
)

var ErrUnknownFormat = errors.New("unsupported audio format")

// Decode converts an encoded assistant reply into mono 16 kHz PCM.
// Ogg containers are tried as Vorbis first, then Opus.
func Decode(data []byte, format Format) ([]float32, error) {
	if format == FormatAuto {
		format = sniff(data)
	}
	switch format {
	case FormatWAV:
		return decodeWAV(bytes.NewReader(data))
	case FormatMP3:
		return decodeMP3(bytes.NewReader(data))
	case FormatOgg:
		if pcm, err := decodeOggVorbis(bytes.NewReader(data)); err == nil {
			return pcm, nil
		}
		pcm, err := decodeOggOpus(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("ogg is neither vorbis nor opus: %w", err)
		}
		return pcm, nil
	default:
		return nil, ErrUnknownFormat
	}
}

func sniff(data []byte) Format {
	if len(data) < 4 {
		return FormatAuto
	}
	switch string(data[:4]) {
	case "RIFF":
		return FormatWAV
	case "OggS":
		return FormatOgg
	}
	// MP3: ID3 tag or a frame sync.
	if string(data[:3]) == "ID3" || (data[0] == 0xFF && data[1]&0xE0 == 0xE0) {
		return FormatMP3
	}
	return FormatAuto
}

func decodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intToFloat32(pb.Data, bd)

	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return normalize(x, ch, sr), nil
}

func decodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}
	x := int16ToFloat32(ints)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	// go-mp3 always emits interleaved stereo.
	return normalize(x, 2, sr), nil
}

func decodeOggVorbis(r io.Reader) ([]float32, error) {
	pcm, info, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Channels <= 0 || info.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return normalize(pcm, info.Channels, info.SampleRate), nil
}

func decodeOggOpus(rs io.ReadSeeker) ([]float32, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2) // ~0.5s per read
	)
	for {
		n, err := dec.Read(buf) // n = samples per channel
		if n > 0 {
			pcm48 = append(pcm48, int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm48) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return normalize(pcm48, ch, 48000), nil
}

// normalize downmixes interleaved audio to mono and resamples to the house
// rate.
func normalize(in []float32, channels, rate int) []float32 {
	out := Downmix(in, channels)
	return Resample(out, rate, SampleRate)
}

// Downmix averages interleaved channels into mono. A channel count <= 1
// returns the input unchanged.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample performs linear interpolation between rates. Good enough for
// speech; nobody is mastering music on a kiosk.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

func intToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		f := float64(v) * scale
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		out[i] = float32(f)
	}
	return out
}

func int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}
