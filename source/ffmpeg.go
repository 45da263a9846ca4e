package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/lumakey/media"
)

// FFmpegSource decodes a video URL or file through an ffmpeg subprocess
// emitting an MJPEG image pipe, buffering frames ahead of playback. Open
// probes the stream with ffprobe for natural size, frame rate, and
// duration, then starts the decode loop in the background; decode errors
// after a successful open stall the buffered watermark rather than failing
// playback.
type FFmpegSource struct {
	url string
	log *slog.Logger

	// Binaries, overridable for tests.
	ffmpegPath  string
	ffprobePath string

	mu         sync.Mutex
	store      frameStore
	bufferedTo time.Duration
	complete   bool
	closed     bool
	duration   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFFmpegSource creates a source for url. If log is nil, slog.Default()
// is used.
func NewFFmpegSource(url string, log *slog.Logger) *FFmpegSource {
	if log == nil {
		log = slog.Default()
	}
	return &FFmpegSource{
		url:         url,
		log:         log.With("component", "ffmpeg-source"),
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

// Open implements Source. It blocks on the ffprobe pass, then launches the
// ffmpeg decode loop and returns.
func (s *FFmpegSource) Open(ctx context.Context) (Info, error) {
	out, err := exec.CommandContext(ctx, s.ffprobePath,
		"-hide_banner", "-loglevel", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		s.url,
	).Output()
	if err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", s.url, err)
	}

	info, err := parseProbe(out)
	if err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.duration = info.Duration
	s.mu.Unlock()

	decodeCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(decodeCtx, s.ffmpegPath,
		"-nostats", "-hide_banner", "-loglevel", "error",
		"-i", s.url,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "2",
		"pipe:1",
	)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return Info{}, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return Info{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	interval := time.Duration(float64(time.Second) / info.FrameRate)
	go s.decodeLoop(cmd, pipe, interval)

	return info, nil
}

// decodeLoop reads consecutive JPEG images off the pipe, stamping each with
// an index-derived PTS, until EOF, a decode error, or Close.
func (s *FFmpegSource) decodeLoop(cmd *exec.Cmd, pipe io.Reader, interval time.Duration) {
	defer close(s.done)
	defer cmd.Wait()

	r := bufio.NewReaderSize(pipe, 1<<20)
	for i := 0; ; i++ {
		img, err := jpeg.Decode(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.log.Warn("decode stopped mid-stream", "url", s.url, "frame", i, "error", err)
			}
			s.finish(i, interval)
			return
		}
		s.push(toPixelBuffer(img, time.Duration(i)*interval))
	}
}

func (s *FFmpegSource) push(f *media.PixelBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.store.append(f)
	s.bufferedTo = f.PTS
}

// finish marks decoding complete and clamps the reported duration to what
// was actually decoded, so end-of-stream detection matches reality when
// the container header over-reported.
func (s *FFmpegSource) finish(frames int, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = true
	decoded := time.Duration(frames) * interval
	if s.duration == 0 || (decoded > 0 && decoded < s.duration) {
		s.duration = decoded
	}
}

// FrameAt implements Source.
func (s *FFmpegSource) FrameAt(mediaTime time.Duration) *media.PixelBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.store.at(min(mediaTime, s.bufferedTo))
}

// BufferedTo implements Source.
func (s *FFmpegSource) BufferedTo() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedTo
}

// Complete implements Source.
func (s *FFmpegSource) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Duration implements Source.
func (s *FFmpegSource) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Close implements Source. It stops the subprocess and waits for the
// decode loop to exit. Safe to call multiple times.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// parseProbe extracts the first video stream's properties from ffprobe
// JSON output.
func parseProbe(data []byte) (Info, error) {
	var probed ffprobeOutput
	if err := json.Unmarshal(data, &probed); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info Info
	found := false
	for _, st := range probed.Streams {
		if st.CodecType != "video" {
			continue
		}
		info.Width = st.Width
		info.Height = st.Height
		info.FrameRate = parseFrameRate(st.RFrameRate)
		found = true
		break
	}
	if !found || info.Width <= 0 || info.Height <= 0 {
		return Info{}, ErrNoVideoStream
	}
	if info.FrameRate <= 0 {
		info.FrameRate = 30
	}

	if probed.Format.Duration != "" {
		secs, err := strconv.ParseFloat(probed.Format.Duration, 64)
		if err == nil && secs > 0 {
			info.Duration = time.Duration(secs * float64(time.Second))
		}
	}
	return info, nil
}

// parseFrameRate parses ffprobe's rational frame rate ("30000/1001").
func parseFrameRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		f, _ := strconv.ParseFloat(r, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// toPixelBuffer converts a decoded image into display-encoded RGBA.
func toPixelBuffer(img image.Image, pts time.Duration) *media.PixelBuffer {
	bounds := img.Bounds()
	buf := media.NewPixelBuffer(bounds.Dx(), bounds.Dy())
	buf.PTS = pts
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			buf.SetRGBA(x, y, byte(r>>8), byte(g>>8), byte(b>>8), byte(a>>8))
		}
	}
	return buf
}
