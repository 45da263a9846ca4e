// Package preview serves the live composited output for inspection
// without an AR device: a single-frame JPEG, an MJPEG stream, a WebSocket
// frame push, and a JSON stats endpoint.
package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/lumakey/certs"
	"github.com/zsiec/lumakey/compositor"
	"github.com/zsiec/lumakey/session"
)

// FrameProvider is the subset of the composite session the preview server
// reads. It only ever reads: the output texture is owned and written by
// the session's event loop, and a torn read shows at worst a mixed frame.
type FrameProvider interface {
	Output() *compositor.Texture
	Snapshot() session.Stats
}

// ServerConfig configures the preview server.
type ServerConfig struct {
	Addr     string
	Provider FrameProvider
	// FrameHz is the push cadence for the MJPEG and WebSocket streams.
	// Defaults to 15.
	FrameHz float64
	// Cert enables TLS when set.
	Cert   *certs.CertInfo
	Logger *slog.Logger
}

// Server exposes the composited output over HTTP.
type Server struct {
	log      *slog.Logger
	addr     string
	provider FrameProvider
	frameHz  float64
	cert     *certs.CertInfo
	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer creates a preview server.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	hz := cfg.FrameHz
	if hz <= 0 {
		hz = 15
	}
	return &Server{
		log:      log.With("component", "preview"),
		addr:     cfg.Addr,
		provider: cfg.Provider,
		frameHz:  hz,
		cert:     cfg.Cert,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // local inspection tool
		},
	}
}

// Handler returns the preview mux, usable standalone in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /frame.jpg", s.handleFrame)
	mux.HandleFunc("GET /mjpeg", s.handleMJPEG)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cert != nil {
			s.srv.TLSConfig = s.cert.TLSConfig()
			s.log.Info("preview listening", "addr", s.addr, "tls", true,
				"fingerprint", s.cert.FingerprintBase64())
			err = s.srv.ListenAndServeTLS("", "")
		} else {
			s.log.Info("preview listening", "addr", s.addr)
			err = s.srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("preview server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Snapshot()); err != nil {
		s.log.Debug("stats encode failed", "error", err)
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, err := s.encodeFrame()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())

	interval := time.Duration(float64(time.Second) / s.frameHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			data, err := s.encodeFrame()
			if err != nil {
				continue // no frame yet
			}
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {fmt.Sprint(len(data))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(data); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrade failure already wrote the response
	}
	defer conn.Close()
	s.log.Info("preview viewer connected", "remote", conn.RemoteAddr())

	interval := time.Duration(float64(time.Second) / s.frameHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			data, err := s.encodeFrame()
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.log.Info("preview viewer disconnected", "remote", conn.RemoteAddr())
				return
			}
		}
	}
}

// encodeFrame JPEG-encodes the current output texture. The texture holds
// premultiplied color, so dropping alpha renders the composite over black.
func (s *Server) encodeFrame() ([]byte, error) {
	tex := s.provider.Output()
	if tex == nil {
		return nil, errors.New("no composited frame yet")
	}

	img := &image.RGBA{
		Pix:    tex.Pix,
		Stride: tex.Width * 4,
		Rect:   image.Rect(0, 0, tex.Width, tex.Height),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
