//go:build portaudio

package portaudio

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/audio/analysis"
	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

var (
	initOnce sync.Once
	termOnce sync.Once
	initErr  error
)

// Available reports whether PortAudio support was compiled in.
func Available() bool { return true }

// Initialize wraps portaudio.Initialize with sync.Once so multiple callers are safe.
func Initialize() error {
	initOnce.Do(func() {
		initErr = pa.Initialize()
	})
	return initErr
}

// Terminate balances Initialize.
func Terminate() {
	if initErr != nil {
		return
	}
	termOnce.Do(func() {
		_ = pa.Terminate()
	})
}

// Capture is an AudioSource reading a live PortAudio input stream.
//
// Thread-safety: This implementation is thread-safe.
type Capture struct {
	logger *slog.Logger
	stream *pa.Stream
	device *pa.DeviceInfo
	ring   *ring

	channels int

	mu       sync.Mutex
	analyzer *analysis.Analyzer
	window   []float32
	closed   bool
}

// Open starts a capture stream. The analyzer's sample rate follows the device.
func Open(logger *slog.Logger, cfg Config, acfg analysis.Config) (ports.AudioSource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.withDefaults()

	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	cfg.Channels = min(cfg.Channels, device.MaxInputChannels)

	acfg.SampleRate = device.DefaultSampleRate
	a := analysis.New(acfg)

	c := &Capture{
		logger:   logger.With(slog.String("component", "portaudio_capture")),
		device:   device,
		ring:     newRing(max(cfg.BufferSize, a.WindowSize())),
		channels: cfg.Channels,
		analyzer: a,
	}

	framesPerBuffer := cfg.BufferSize / cfg.Channels
	if framesPerBuffer < 64 {
		framesPerBuffer = pa.FramesPerBufferUnspecified
	}

	stream, err := pa.OpenStream(pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		Output:          pa.StreamDeviceParameters{},
		SampleRate:      device.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, c.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	c.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	c.logger.Info("capture started",
		slog.String("device", device.Name),
		slog.Float64("sample_rate", device.DefaultSampleRate),
		slog.Int("channels", cfg.Channels))
	return c, nil
}

func (c *Capture) process(in []float32) {
	c.ring.writeInterleaved(in, c.channels)
}

// Next implements ports.AudioSource.
func (c *Capture) Next(delta time.Duration) (domain.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.AudioFrame{}, domain.ErrSourceClosed
	}
	c.window = c.ring.snapshot(c.window)
	return c.analyzer.Analyze(c.window, delta), nil
}

// Close stops and closes the stream.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.stream.Stop(); err != nil && !isInvalidStreamState(err) {
		return err
	}
	c.logger.Info("capture stopped")
	return c.stream.Close()
}

func findDevice(name string) (*pa.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := pa.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if candidate := pickBestDevice(devices); candidate != nil {
		return candidate, nil
	}
	return nil, fmt.Errorf("no suitable audio input device found")
}

func findDeviceByName(name string) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}

// pickBestDevice prefers loopback style inputs so system playback can be visualized.
func pickBestDevice(devices []*pa.DeviceInfo) *pa.DeviceInfo {
	type scored struct {
		dev   *pa.DeviceInfo
		score int
	}
	keywords := []string{"monitor", "loopback", "stereo mix", "what u hear"}

	var results []scored
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		score := d.MaxInputChannels
		lower := strings.ToLower(d.Name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score += 20
				break
			}
		}
		results = append(results, scored{dev: d, score: score})
	}
	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return results[i].dev.Name < results[j].dev.Name
		}
		return results[i].score > results[j].score
	})
	return results[0].dev
}

// isInvalidStreamState matches the error from stopping an already stopped stream.
func isInvalidStreamState(err error) bool {
	return err != nil && strings.Contains(err.Error(), "PaErrorCode -9986")
}

var _ ports.AudioSource = (*Capture)(nil)
