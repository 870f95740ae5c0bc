package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

// StreamResampler converts a continuous PCM16 stream between sample
// rates, keeping filter state across frames. Typical use here is model
// output at 24 kHz down to a 16 kHz satellite.
type StreamResampler struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
	engine  *resampler.SimpleResamplerFloat32
	outBuf  []float32
}

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

// soxr engines are expensive to build; pool them per rate pair.
var soxrPools sync.Map

func getSoxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	pool := &sync.Pool{}
	actual, _ := soxrPools.LoadOrStore(key, pool)
	return actual.(*sync.Pool)
}

func acquireEngine(inRate, outRate int, quality resampler.QualityPreset) (*resampler.SimpleResamplerFloat32, error) {
	key := soxrKey{inRate: inRate, outRate: outRate, quality: quality}
	if v := getSoxrPool(key).Get(); v != nil {
		if engine, ok := v.(*resampler.SimpleResamplerFloat32); ok && engine != nil {
			return engine, nil
		}
	}
	return resampler.NewEngineFloat32(float64(inRate), float64(outRate), quality)
}

func releaseEngine(key soxrKey, engine *resampler.SimpleResamplerFloat32) {
	if engine == nil {
		return
	}
	engine.Reset()
	getSoxrPool(key).Put(engine)
}

// NewStreamResampler creates a streaming resampler between the rates.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("resampler rates must be positive")
	}
	engine, err := acquireEngine(inRate, outRate, resampler.QualityHigh)
	if err != nil {
		return nil, err
	}
	return &StreamResampler{
		inRate:  inRate,
		outRate: outRate,
		quality: resampler.QualityHigh,
		engine:  engine,
	}, nil
}

// Close returns the engine to the pool.
func (s *StreamResampler) Close() {
	if s == nil || s.engine == nil {
		return
	}
	releaseEngine(soxrKey{inRate: s.inRate, outRate: s.outRate, quality: s.quality}, s.engine)
	s.engine = nil
	s.outBuf = nil
}

// AppendPCM feeds PCM16 samples through the resampler.
func (s *StreamResampler) AppendPCM(pcm []int16) error {
	if s == nil || s.engine == nil || len(pcm) == 0 {
		return nil
	}
	tmp := AcquireFloat32(len(pcm))
	tmp = Int16ToFloat32Into(tmp, pcm)
	out, err := s.engine.Process(tmp)
	ReleaseFloat32(tmp)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		s.outBuf = append(s.outBuf, out...)
	}
	return nil
}

// Flush drains the engine's internal buffer.
func (s *StreamResampler) Flush() error {
	if s == nil || s.engine == nil {
		return nil
	}
	out, err := s.engine.Flush()
	if err != nil {
		return err
	}
	if len(out) > 0 {
		s.outBuf = append(s.outBuf, out...)
	}
	return nil
}

// PopFrame returns a fixed-size PCM16 frame if enough output is ready.
// The returned slice comes from the int16 pool.
func (s *StreamResampler) PopFrame(frameSize int) ([]int16, bool) {
	if s == nil || frameSize <= 0 || len(s.outBuf) < frameSize {
		return nil, false
	}
	frameFloat := s.outBuf[:frameSize]
	s.outBuf = s.outBuf[frameSize:]
	frame := AcquireInt16(frameSize)
	frame = Float32ToInt16Into(frame, frameFloat)
	return frame, true
}

// Discard drops all buffered output.
func (s *StreamResampler) Discard() {
	if s == nil {
		return
	}
	s.outBuf = nil
}

// PopRemainderPadded returns the tail padded with silence to frameSize,
// or nil when nothing is buffered.
func (s *StreamResampler) PopRemainderPadded(frameSize int) []int16 {
	if s == nil || frameSize <= 0 || len(s.outBuf) == 0 {
		return nil
	}
	if len(s.outBuf) > frameSize {
		s.outBuf = s.outBuf[:frameSize]
	}
	frame := AcquireInt16(frameSize)
	n := len(s.outBuf)
	if n > 0 {
		Float32ToInt16Into(frame[:n], s.outBuf)
	}
	for i := n; i < frameSize; i++ {
		frame[i] = 0
	}
	s.outBuf = nil
	return frame
}
