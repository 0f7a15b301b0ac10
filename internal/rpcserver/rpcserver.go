// Package rpcserver implements the local JSON RPC endpoint: a streaming
// unix-domain socket carrying exactly one request and one response per
// connection, dispatched by {target, mode} to a registry of named targets.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Target is a named read/write endpoint. Targets that are read-only or
// write-only still implement both methods, returning the source's
// {status:"error", message:"..."} shape for the unsupported direction —
// matching ConfigTarget's behavior rather than the RPC layer's.
type Target interface {
	Name() string
	Read() (interface{}, error)
	Write(data json.RawMessage) (interface{}, error)
}

// Server is the unix-socket JSON RPC listener.
type Server struct {
	log     zerolog.Logger
	addr    string
	timeout time.Duration

	mu       sync.RWMutex
	registry map[string]Target

	listener net.Listener
	limiter  *rate.Limiter
	stop     chan struct{}
	stopCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Server bound to the given filesystem socket path. addr
// is typically /dev/BSwitcher; the socket is unlinked and rebound on Start.
func New(log zerolog.Logger, addr string) *Server {
	return &Server{
		log:      log,
		addr:     addr,
		timeout:  30 * time.Second,
		registry: make(map[string]Target),
		limiter:  rate.NewLimiter(rate.Limit(50), 20),
	}
}

// Register adds a target to the registry. Must be called before Start;
// the registry is unsynchronized-safe for concurrent reads only after that.
func (s *Server) Register(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[t.Name()] = t
}

// Start unlinks any stale socket file, binds, and begins accepting
// connections on a background goroutine.
func (s *Server) Start() error {
	_ = os.Remove(s.addr)
	l, err := net.Listen("unix", s.addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.stop = make(chan struct{})
	s.stopCtx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Shutdown closes the listener, waking the accept loop, and waits for it
// to exit. Outstanding per-client goroutines detach and exit on their own.
func (s *Server) Shutdown() {
	if s.listener == nil {
		return
	}
	close(s.stop)
	s.cancel()
	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				s.log.Error().Err(err).Msg("rpc accept failed")
				return
			}
		}

		if err := s.limiter.Wait(s.stopCtx); err != nil {
			conn.Close()
			continue
		}

		id := uuid.New().String()
		go s.handleConn(conn, id)
	}
}

func (s *Server) handleConn(conn net.Conn, connID string) {
	defer conn.Close()
	log := s.log.With().Str("conn", connID).Logger()

	conn.SetDeadline(time.Now().Add(s.timeout))

	var buf []byte
	reader := bufio.NewReader(conn)
	chunk := make([]byte, 4096)

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if gjson.ValidBytes(buf) {
				s.respond(conn, log, buf)
				return
			}
			// Anything other than a truncated document is malformed: reply
			// and close instead of waiting for more bytes.
			var probe interface{}
			if perr := json.Unmarshal(buf, &probe); perr != nil && perr.Error() != "unexpected end of JSON input" {
				writeAll(conn, []byte(`{"error":"Invalid JSON format"}`+"\n"))
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) respond(conn net.Conn, log zerolog.Logger, raw []byte) {
	resp := s.dispatch(log, raw)
	out, err := json.Marshal(resp)
	if err != nil {
		out = []byte(`{"status":"error","message":"internal serialization error"}`)
	}
	out = append(out, '\n')
	writeAll(conn, out)
}

func writeAll(conn net.Conn, data []byte) {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return
		}
		data = data[n:]
	}
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) dispatch(log zerolog.Logger, raw []byte) interface{} {
	if !gjson.ValidBytes(raw) {
		return statusResponse{"error", "Invalid JSON format"}
	}
	parsed := gjson.ParseBytes(raw)
	targetName := parsed.Get("target").String()
	mode := parsed.Get("mode").String()

	if targetName == "" || mode == "" {
		return statusResponse{"error", "Missing required fields: target and mode"}
	}

	s.mu.RLock()
	target, ok := s.registry[targetName]
	s.mu.RUnlock()
	if !ok {
		return statusResponse{"error", "Invalid target: " + targetName}
	}

	log.Debug().Str("target", targetName).Str("mode", mode).Msg("dispatching rpc request")

	switch mode {
	case "read":
		result, err := target.Read()
		if err != nil {
			log.Error().Err(err).Str("target", targetName).Msg("target read failed")
			return statusResponse{"error", err.Error()}
		}
		return result
	case "write":
		dataRaw := parsed.Get("data")
		if !dataRaw.Exists() {
			return statusResponse{"error", "Missing required field: data"}
		}
		result, err := target.Write(json.RawMessage(dataRaw.Raw))
		if err != nil {
			log.Error().Err(err).Str("target", targetName).Msg("target write failed")
			return statusResponse{"error", err.Error()}
		}
		return result
	default:
		return statusResponse{"error", "Invalid mode: " + mode}
	}
}

