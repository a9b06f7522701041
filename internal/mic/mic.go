// Package mic opens PortAudio input devices as capture sources.
package mic

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"livescribe/internal/capture"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

// Source is a PortAudio microphone.
type Source struct {
	logger *logrus.Logger
}

// NewSource returns a microphone source. Devices are resolved on Open.
func NewSource(logger *logrus.Logger) *Source {
	return &Source{logger: logger}
}

func (s *Source) Name() string { return "microphone" }

// Open initializes PortAudio, picks the device matching c.DeviceName (or the
// default input) and starts a blocking input stream. Any failure is reported
// as a capture.PermissionError.
func (s *Source) Open(c capture.Constraints) (capture.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &capture.PermissionError{Device: c.DeviceName, Err: fmt.Errorf("portaudio init: %w", err)}
	}
	dev, err := selectDevice(c.DeviceName)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &capture.PermissionError{Device: c.DeviceName, Err: err}
	}

	frame := c.FrameSamples()
	buf := make([]int16, frame)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: c.Format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.Format.SampleRate),
		FramesPerBuffer: frame / max(1, c.Format.Channels),
	}, &buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &capture.PermissionError{Device: dev.Name, Err: fmt.Errorf("open stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, &capture.PermissionError{Device: dev.Name, Err: fmt.Errorf("start stream: %w", err)}
	}
	if c.EchoCancellation {
		s.logger.Debugf("%s: echo cancellation left to the device driver", dev.Name)
	}
	s.logger.Infof("listening on mic: %s @ %d Hz", dev.Name, c.Format.SampleRate)
	return &stream16{
		device: dev.Name,
		stream: stream,
		buf:    buf,
		format: c.Format,
		logger: s.logger,
	}, nil
}

type stream16 struct {
	device string
	stream *portaudio.Stream
	buf    []int16
	format capture.Format
	logger *logrus.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *stream16) Format() capture.Format { return s.format }

// Read blocks for one PortAudio buffer. Input overflows are logged and the
// frame is delivered anyway.
func (s *stream16) Read(p []int16) (int, error) {
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, fmt.Errorf("%s: %w", s.device, err)
		}
		s.logger.Warn("input overflow")
	}
	return copy(p, s.buf), nil
}

func (s *stream16) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
	})
	return s.closeErr
}

// Device describes one input device.
type Device struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Channels  int     `json:"channels"`
	LatencyMs float64 `json:"latency_ms"`
	Default   bool    `json:"default"`
}

// List returns input-capable devices.
func List() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()
	return inputDevices(devs, def), nil
}

func inputDevices(devs []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) []Device {
	out := []Device{}
	for i, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			Index:     i,
			Name:      d.Name,
			Channels:  d.MaxInputChannels,
			LatencyMs: d.DefaultLowInputLatency.Seconds() * 1000,
			Default:   def != nil && d.Name == def.Name,
		})
	}
	return out
}

func selectDevice(preferred string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()
	return pickDevice(devs, def, preferred)
}

// pickDevice prefers a case-insensitive name match, then the default input,
// then the first device with input channels.
func pickDevice(devs []*portaudio.DeviceInfo, def *portaudio.DeviceInfo, preferred string) (*portaudio.DeviceInfo, error) {
	if preferred != "" {
		for _, d := range devs {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
				return d, nil
			}
		}
		return nil, fmt.Errorf("no input device matching %q", preferred)
	}
	if def != nil && def.MaxInputChannels > 0 {
		return def, nil
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, errors.New("no input devices found")
}
