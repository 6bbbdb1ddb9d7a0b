package metrics

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Server is the small debug/metrics HTTP endpoint the master loop runs
// alongside the control protocol (spec §4.13's housekeeping surface),
// serving /metrics over fasthttp rather than net/http to match the rest
// of the pack's preference for a pooled, allocation-light HTTP stack.
// It implements cmn.Runner so the master rungroup can supervise it like
// any other long-lived component.
type Server struct {
	Collectors *Collectors
	Addr       string // cmn.StatsConfig.MetricsAddr, e.g. ":9090"

	srv *fasthttp.Server
}

// NewServer wraps c's registry behind a fasthttp /metrics handler bound
// to addr.
func NewServer(c *Collectors, addr string) *Server {
	handler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}),
	)
	s := &Server{Collectors: c, Addr: addr}
	s.srv = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != "/metrics" {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}
			handler(ctx)
		},
		Name: "shepherd-metrics",
	}
	return s
}

// Name identifies this runner in the master rungroup.
func (*Server) Name() string { return "metrics" }

// Run blocks serving /metrics until Stop closes the listener.
func (s *Server) Run() error {
	return s.srv.ListenAndServe(s.Addr)
}

// Stop shuts the fasthttp server down.
func (s *Server) Stop(error) { _ = s.srv.Shutdown() }
