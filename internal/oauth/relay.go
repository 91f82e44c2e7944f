package oauth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deskbot/godesk/pkg/logger"
	"github.com/deskbot/godesk/pkg/ratelimit"
)

const callbackPage = `<!doctype html>
<html>
<head><title>godesk</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h2>Login complete</h2>
<p>You can close this window and return to the dashboard.</p>
</body>
</html>`

// Relay is the loopback HTTP server the broker redirects the browser to.
// It converts the redirect into a bus message; it never sees tokens, only
// the one-time authorization code.
type Relay struct {
	bus     *Bus
	addr    string
	log     *logrus.Entry
	limiter *ratelimit.TokenBucket

	srv *http.Server
	ln  net.Listener
}

func NewRelay(addr string, bus *Bus) *Relay {
	return &Relay{
		bus:  bus,
		addr: addr,
		log:  logger.WithField("component", "relay"),
		// A login produces one callback; anything arriving faster than
		// this is not a login.
		limiter: ratelimit.NewTokenBucket(10, 1),
	}
}

func (r *Relay) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/healthz", wrap(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	e.GET("/oauth/callback", r.throttled(r.handleRedirect))
	e.POST("/oauth/callback", r.throttled(r.handlePost))

	return e
}

// throttled rejects callback floods before the handler runs.
func (r *Relay) throttled(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.limiter.Allow() {
			writeError(c.Writer, http.StatusTooManyRequests, "slow down")
			c.Abort()
			return
		}
		h(c.Writer, c.Request)
	}
}

// Start binds the listener synchronously so a port clash surfaces here,
// then serves in the background.
func (r *Relay) Start() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", r.addr)
	}
	r.ln = ln
	r.srv = &http.Server{
		Handler:           r.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.log.Errorf("relay server: %v", err)
		}
	}()

	r.log.Infof("listening on %s", ln.Addr())
	return nil
}

func (r *Relay) Shutdown(ctx context.Context) error {
	if r.srv == nil {
		return nil
	}
	return r.srv.Shutdown(ctx)
}

// Addr is the bound address, useful when the configured port was 0.
func (r *Relay) Addr() string {
	if r.ln == nil {
		return r.addr
	}
	return r.ln.Addr().String()
}

// CallbackURL is the redirect target handed to oauth-start.
func (r *Relay) CallbackURL() string {
	return "http://" + r.Addr() + "/oauth/callback"
}

// handleRedirect is the browser redirect target.
func (r *Relay) handleRedirect(w http.ResponseWriter, req *http.Request) {
	broker := req.URL.Query().Get("broker")
	code := req.URL.Query().Get("code")
	if broker == "" || code == "" {
		writeError(w, http.StatusBadRequest, "missing broker or code")
		return
	}

	delivered := r.bus.Publish(Message{Type: TypeCallback, Broker: broker, Code: code})
	r.log.Infof("callback for %s, delivered=%v", broker, delivered)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(callbackPage))
}

// handlePost accepts the same message as JSON, for backends that relay the
// callback themselves. The bus enforces the type discriminant.
func (r *Relay) handlePost(w http.ResponseWriter, req *http.Request) {
	var msg Message
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	delivered := r.bus.Publish(msg)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "delivered": delivered})
}

// wrap adapts net/http handlers to gin.
func wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		h(c.Writer, c.Request)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("write json response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
