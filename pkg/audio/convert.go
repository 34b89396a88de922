package audio

import "log/slog"

// Convert returns c converted to target. Resampling runs before channel
// conversion so a stereo source headed for mono is resampled only once per
// channel pair. Clips whose byte count is not a whole number of samples are
// truncated to the last complete frame.
func (c Clip) Convert(target Format) Clip {
	if c.Format == target {
		return c
	}
	pcm := c.PCM
	if frame := 2 * max(c.Format.Channels, 1); len(pcm)%frame != 0 {
		slog.Debug("audio: truncating partial frame", "bytes", len(pcm), "format", c.Format.String())
		pcm = pcm[:len(pcm)-len(pcm)%frame]
	}

	rate, channels := c.Format.SampleRate, c.Format.Channels
	if rate != target.SampleRate {
		switch channels {
		case 1:
			pcm = ResampleMono16(pcm, rate, target.SampleRate)
		case 2:
			pcm = ResampleStereo16(pcm, rate, target.SampleRate)
		}
		rate = target.SampleRate
	}
	if channels != target.Channels {
		switch {
		case channels == 1 && target.Channels == 2:
			pcm = MonoToStereo(pcm)
		case channels == 2 && target.Channels == 1:
			pcm = StereoToMono(pcm)
		}
		channels = target.Channels
	}
	return Clip{PCM: pcm, Format: Format{SampleRate: rate, Channels: channels}}
}

// DownmixForTranscription turns captured Discord audio (48 kHz stereo) into
// 16 kHz mono.
func DownmixForTranscription(pcm []byte) []byte {
	mono := StereoToMono(pcm)
	return ResampleMono16(mono, Discord.SampleRate, Transcription.SampleRate)
}

// MonoToStereo duplicates every mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R pair. The sum is taken in int32 so it cannot
// overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := clamp16((l + r) / 2)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples mono int16 PCM with linear interpolation. Invalid
// rates or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved stereo int16 PCM with linear
// interpolation, treating both channels independently.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	frameBytes := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		off := frame*frameBytes + ch*2
		return float64(int16(pcm[off]) | int16(pcm[off+1])<<8)
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			v := int16(sample(idx, ch)*(1-frac) + sample(next, ch)*frac)
			off := i*frameBytes + ch*2
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
