package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/authz"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
)

type (
	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Tokens     *identity.Tokens
		Identity   identity.Provider
		Profiles   *profile.Store
		Faculty    *faculty.Repository
		Sessions   *authz.Sessions
		AccountSvc *account.Service
		CodeGate   *accesscode.Gate
		Redis      *redis.Client // optional: login rate limits are kept in memory without it
		Registry   *prometheus.Registry
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		address string
		app     *echo.Echo
		deps    *Deps
		metrics *metrics
	}
)

var _ Server = (*server)(nil)

// NewServer builds the API. shutdown, when not nil, receives a signal whenever an error
// asks for the process to stop.
func NewServer(address string, shutdown chan os.Signal, deps *Deps) Server {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	s := &server{
		address: address,
		app:     echo.New(),
		deps:    deps,
		metrics: newMetrics(deps.Registry),
	}
	registerSessionsGauge(deps.Registry, deps.Sessions.Len)
	s.setup(shutdown)
	return s
}

func (s *server) setup(shutdown chan os.Signal) {
	conf := s.deps.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, func() {
		if shutdown != nil {
			shutdown <- syscall.SIGTERM
		}
	})
	s.app.Debug = conf.Debug && !conf.TestMode
	s.app.HideBanner = true

	s.app.GET("/", home)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))

	v1 := s.app.Group("/v1")
	authed := s.authMiddleware()

	registerAuthAPI(v1, authed, s.loginRateLimiter(), s.deps, s.metrics)
	registerUserAPI(v1, authed, s.authorize, s.deps)
	registerFacultyAPI(v1, authed, s.authorize, s.deps)
	registerAccessCodeAPI(v1, authed, s.authorize, s.deps)
}

func (s *server) Start() error {
	return s.app.Start(s.address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to SURI-ARAL API!")
}
