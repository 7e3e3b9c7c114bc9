package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/cli"
)

const keepAliveInterval = 30 * time.Second

// eventStream writes server-sent events. Writes are serialized because the
// keep-alive ticker shares the connection with the deploy log.
type eventStream struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	ctx     context.Context
	err     error
	log     zerolog.Logger
}

func (es *eventStream) send(event, data string) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.err != nil {
		return false
	}
	if err := es.ctx.Err(); err != nil {
		es.err = err
		es.log.Info().Err(err).Msg("event stream closed by client")
		return false
	}

	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return es.write(b.String())
}

func (es *eventStream) write(msg string) bool {
	if _, err := io.WriteString(es.w, msg); err != nil {
		es.err = err
		es.log.Warn().Err(err).Msg("event stream write failed")
		return false
	}
	es.flusher.Flush()
	return true
}

// logf forwards each non-empty line of a progress message as its own event.
func (es *eventStream) logf(format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !es.send("", line) {
			return
		}
	}
}

// keepAlive writes an SSE comment every interval until stop is called.
func (es *eventStream) keepAlive(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-es.ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				es.mu.Lock()
				ok := es.err == nil && es.write(": keep-alive\n\n")
				es.mu.Unlock()
				if !ok {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// handleDeploy streams the deploy log of one category. The last event is
// named done or error.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	var req struct {
		ArtifactDir string `json:"artifactDir"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ArtifactDir == "" {
		req.ArtifactDir = s.artifactDir
	}

	s.mu.Lock()
	store := s.session.Deployment()
	cfg, err := store.Configuration(c)
	desc, derr := store.Descriptor(c)
	s.mu.Unlock()
	if err == nil {
		err = derr
	}
	if err != nil {
		sendFailure(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	es := &eventStream{w: w, flusher: flusher, ctx: r.Context(), log: s.log}
	es.send("", "Connected")
	stop := es.keepAlive(keepAliveInterval)
	defer stop()

	err = cli.DeployConfiguration(r.Context(), s.dispatcher, cfg, desc, req.ArtifactDir, es.logf)
	if err != nil {
		s.log.Warn().Err(err).Str("category", string(c)).Msg("deployment failed")
		es.send("error", err.Error())
		return
	}
	es.send("done", "Deployment complete")
}
