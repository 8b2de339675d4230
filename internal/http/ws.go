package http

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"voicetotext-service/internal/config"
	"voicetotext-service/internal/models"
	"voicetotext-service/internal/observability/logging"
	"voicetotext-service/internal/observability/metrics"
	"voicetotext-service/internal/service/progress"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPongTimeout  = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20
)

// wsObserver adapts one WebSocket connection to progress.Observer. Writes
// are serialized because gorilla allows a single concurrent writer.
type wsObserver struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func (o *wsObserver) Send(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout)); err != nil {
		return err
	}
	return o.conn.WriteJSON(v)
}

func (o *wsObserver) ping() error {
	return o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(o.writeTimeout))
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (o *wsObserver) Close() error {
	var err error
	o.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = o.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(o.writeTimeout))
		err = o.conn.Close()
	})
	return err
}

// progressSocket serves GET /ws.
type progressSocket struct {
	broadcaster *progress.Broadcaster
	cfg         config.WebSocketConfig
	upgrader    websocket.Upgrader
	metrics     *metrics.Metrics
}

func newProgressSocket(b *progress.Broadcaster, cfg config.WebSocketConfig, origins []string, m *metrics.Metrics) *progressSocket {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &progressSocket{
		broadcaster: b,
		cfg:         cfg,
		metrics:     m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// originChecker mirrors the CORS policy. Requests without an Origin header
// come from non-browser clients and are allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (s *progressSocket) limiter() *rate.Limiter {
	if s.cfg.MessageRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.MessageRate), max(s.cfg.MessageBurst, 1))
}

func (s *progressSocket) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Debug().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	obs := &wsObserver{conn: conn, writeTimeout: s.cfg.WriteTimeout}
	logger := logging.WithObserver(uuid.NewString(), r.RemoteAddr)
	defer obs.Close()

	readWait := s.cfg.PingInterval + s.cfg.PongTimeout
	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	if err := obs.Send(models.StatusFrame{Status: models.StatusConnected}); err != nil {
		logger.Debug().Err(err).Msg("Failed to send connected frame")
		return
	}
	s.broadcaster.Register(obs)
	defer s.broadcaster.Unregister(obs)
	logger.Info().Int("observers", s.broadcaster.Len()).Msg("Progress observer connected")

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(obs, done, logger)

	s.readLoop(obs, logger)
	logger.Info().Msg("Progress observer disconnected")
}

// readLoop echoes client text frames until the connection fails. Frames over
// the rate limit are dropped without a reply.
func (s *progressSocket) readLoop(obs *wsObserver, logger zerolog.Logger) {
	limiter := s.limiter()
	for {
		mt, data, err := obs.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("Progress observer closed unexpectedly")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		allowed := limiter.Allow()
		s.metrics.RecordObserverMessage(!allowed)
		if !allowed {
			continue
		}
		if err := obs.Send(models.StatusFrame{Status: models.StatusMessageReceived, Data: string(data)}); err != nil {
			logger.Debug().Err(err).Msg("Failed to echo client frame")
			return
		}
	}
}

func (s *progressSocket) pingLoop(obs *wsObserver, done <-chan struct{}, logger zerolog.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := obs.ping(); err != nil {
				logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}
