// internal/network/proxy.go
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scribe-cli/internal/certs"
)

// ErrProxyRunning is returned by Start when the proxy is already serving.
var ErrProxyRunning = errors.New("interception proxy already started")

// RequestHandler inspects or rewrites a request. Returning a non-nil response
// answers the request without contacting the upstream.
type RequestHandler func(*http.Request, *goproxy.ProxyCtx) (*http.Request, *http.Response)

// ResponseHandler inspects or rewrites an upstream response.
type ResponseHandler func(*http.Response, *goproxy.ProxyCtx) *http.Response

// InterceptionProxy is the process-wide local proxy that adapters and the browser
// may route traffic through.
type InterceptionProxy struct {
	addr  string
	proxy *goproxy.ProxyHttpServer
	mitm  *goproxy.ConnectAction

	serverMutex sync.Mutex
	server      *http.Server
	listener    net.Listener
	done        chan struct{}

	hooksMutex    sync.RWMutex
	requestHooks  []RequestHandler
	responseHooks []ResponseHandler

	logger *zap.Logger
}

// NewInterceptionProxy prepares a proxy that will listen on addr. With a non-nil CA
// CONNECT requests are intercepted; otherwise they are tunneled untouched.
func NewInterceptionProxy(addr string, ca *certs.CA, clientConfig *ClientConfig, logger *zap.Logger) (*InterceptionProxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("interception_proxy")

	var cfgCopy ClientConfig
	if clientConfig == nil {
		cfgCopy = *NewDefaultClientConfig()
		// Upstream sites often present broken chains; the proxy is local only.
		cfgCopy.IgnoreTLSErrors = true
	} else {
		cfgCopy = *clientConfig
	}
	cfgCopy.ProxyURL = nil
	if cfgCopy.Logger == nil {
		cfgCopy.Logger = log
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = NewHTTPTransport(&cfgCopy)
	proxy.Logger = zap.NewStdLog(log.Named("goproxy"))

	ip := &InterceptionProxy{
		addr:   addr,
		proxy:  proxy,
		logger: log,
	}

	if ca != nil {
		tlsCert := ca.TLSCertificate()
		ip.mitm = &goproxy.ConnectAction{
			Action:    goproxy.ConnectMitm,
			TLSConfig: goproxy.TLSConfigFromCA(&tlsCert),
		}
		log.Info("MITM enabled.", zap.String("ca", ca.Cert.Subject.CommonName))
	} else {
		log.Info("No CA configured, CONNECT requests are tunneled.")
	}

	ip.setupHandlers()
	return ip, nil
}

// MITMEnabled reports whether TLS traffic is intercepted.
func (ip *InterceptionProxy) MITMEnabled() bool { return ip.mitm != nil }

// AddRequestHook appends a request handler. Handlers run in registration order.
func (ip *InterceptionProxy) AddRequestHook(handler RequestHandler) {
	ip.hooksMutex.Lock()
	defer ip.hooksMutex.Unlock()
	ip.requestHooks = append(ip.requestHooks, handler)
}

// AddResponseHook appends a response handler. Handlers run in registration order.
func (ip *InterceptionProxy) AddResponseHook(handler ResponseHandler) {
	ip.hooksMutex.Lock()
	defer ip.hooksMutex.Unlock()
	ip.responseHooks = append(ip.responseHooks, handler)
}

func (ip *InterceptionProxy) setupHandlers() {
	ip.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if ip.mitm != nil {
			return ip.mitm, host
		}
		return goproxy.OkConnect, host
	}))

	ip.proxy.OnRequest().DoFunc(ip.handleRequest)
	ip.proxy.OnResponse().DoFunc(ip.handleResponse)
}

func (ip *InterceptionProxy) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	reqURL := getRequestURL(ctx)
	ip.logger.Debug("Proxy intercepted request", zap.String("method", r.Method), zap.String("url", reqURL))

	ip.hooksMutex.RLock()
	hooks := ip.requestHooks
	ip.hooksMutex.RUnlock()

	current := r
	for _, hook := range hooks {
		next, resp := hook(current, ctx)
		if resp != nil {
			ip.logger.Debug("Request answered by a hook", zap.String("url", reqURL))
			return current, resp
		}
		if next == nil {
			ip.logger.Error("A request hook returned a nil request.", zap.String("url", reqURL))
			return current, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusInternalServerError, "proxy error: request hook failed")
		}
		current = next
	}
	return current, nil
}

func (ip *InterceptionProxy) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	reqURL := getRequestURL(ctx)

	if r == nil {
		errorMsg := "unknown error"
		if ctx.Error != nil {
			errorMsg = ctx.Error.Error()
		}
		ip.logger.Warn("Upstream returned no response", zap.String("url", reqURL), zap.String("error", errorMsg))

		if ctx.Req == nil {
			return &http.Response{
				StatusCode: http.StatusBadGateway,
				ProtoMajor: 1,
				ProtoMinor: 1,
				Header:     make(http.Header),
				Body:       io.NopCloser(bytes.NewBufferString("proxy error: " + errorMsg)),
			}
		}
		return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, "proxy error: upstream connection failed: "+errorMsg)
	}

	ip.logger.Debug("Proxy received response", zap.Int("status", r.StatusCode), zap.String("url", reqURL))

	ip.hooksMutex.RLock()
	hooks := ip.responseHooks
	ip.hooksMutex.RUnlock()

	last := r
	for _, hook := range hooks {
		next := hook(last, ctx)
		if next == nil {
			ip.logger.Error("A response hook returned a nil response, keeping the previous one.", zap.String("url", reqURL))
			return last
		}
		last = next
	}
	return last
}

// Start binds the listen address and serves in the background until Stop is called
// or ctx is cancelled. The bound address is available from Addr once Start returns.
func (ip *InterceptionProxy) Start(ctx context.Context) error {
	ip.serverMutex.Lock()
	defer ip.serverMutex.Unlock()
	if ip.server != nil {
		return ErrProxyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ip.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ip.addr, err)
	}

	server := &http.Server{
		Handler:           ip.proxy,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(ip.logger.Named("http_server")),
	}
	done := make(chan struct{})
	ip.server, ip.listener, ip.done = server, ln, done

	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ip.logger.Error("Proxy server stopped with an error", zap.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = ip.Stop(shutdownCtx)
		case <-done:
		}
	}()

	ip.logger.Info("Interception proxy listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Stop shuts the server down. Calling it on a stopped proxy is a no-op.
func (ip *InterceptionProxy) Stop(ctx context.Context) error {
	ip.serverMutex.Lock()
	server, done := ip.server, ip.done
	ip.server, ip.listener, ip.done = nil, nil, nil
	ip.serverMutex.Unlock()

	if server == nil {
		return nil
	}

	err := server.Shutdown(ctx)
	if err != nil {
		// Hijacked CONNECT tunnels are not tracked by Shutdown.
		_ = server.Close()
	}
	<-done
	if err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	ip.logger.Info("Interception proxy stopped.")
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (ip *InterceptionProxy) Addr() string {
	ip.serverMutex.Lock()
	defer ip.serverMutex.Unlock()
	if ip.listener != nil {
		return ip.listener.Addr().String()
	}
	return ip.addr
}

// URL returns the proxy address as an http URL suitable for clients and browsers.
// A wildcard listen host is reported as loopback so local tools can dial it.
func (ip *InterceptionProxy) URL() string {
	addr := ip.Addr()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if ipAddr := net.ParseIP(host); host == "" || (ipAddr != nil && ipAddr.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func getRequestURL(ctx *goproxy.ProxyCtx) string {
	if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
		return ctx.Req.URL.String()
	}
	return "unknown"
}
