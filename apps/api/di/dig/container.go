package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/suriaral/apps/api/echo"
	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/authz"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
	emailsvc "github.com/trezcool/suriaral/services/email"
	"github.com/trezcool/suriaral/services/events"
	logsvc "github.com/trezcool/suriaral/services/logger"
	"github.com/trezcool/suriaral/storage/kv"
	"github.com/trezcool/suriaral/storage/kv/memstore"
	"github.com/trezcool/suriaral/storage/kv/pgstore"
	"github.com/trezcool/suriaral/storage/kv/redisstore"
)

const (
	redisKeyPrefix = "suriaral:"
	connectTimeout = 30 * time.Second
)

type StoreLoggerParam struct {
	dig.In
	Logger core.Logger `name:"storeLogger"`
}

// Storage is the document store selected by `storage.driver`, with the connections to close on exit.
type Storage struct {
	Store   kv.Store
	Redis   *redis.Client // only with the redis driver
	DB      *sqlx.DB      // only with the postgres driver
	closers []func() error
}

func (st *Storage) Close() error {
	var firstErr error
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStoreLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "STORE : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam StoreLoggerParam) (*Storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	logger := loggerParam.Logger

	switch conf.StorageDriver {
	case "", "memory":
		logger.Warn("using the in-memory store: data will not survive a restart")
		return &Storage{Store: memstore.New()}, nil

	case "redis":
		rdb, err := redisstore.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Store:   redisstore.New(rdb, redisKeyPrefix),
			Redis:   rdb,
			closers: []func() error{rdb.Close},
		}, nil

	case "postgres":
		if err := pgstore.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		dsn := pgstore.DSN(conf)
		db, err := pgstore.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err = pgstore.Migrate(ctx, db.DB, "up"); err != nil {
			_ = db.Close()
			return nil, err
		}
		store, err := pgstore.New(db, dsn, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Storage{Store: store, DB: db, closers: []func() error{db.Close, store.Close}}, nil

	default:
		return nil, errors.Errorf("unknown storage driver %q", conf.StorageDriver)
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// newValidator registers every custom tag and its translation.
func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	access.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)
	accesscode.InitValidators(validate, translator)
	return validate
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newSessions(conf *core.Config, profiles *profile.Store, logger core.Logger) *authz.Sessions {
	return authz.NewSessions(profiles, conf.Access.RoleResolveTimeout, logger)
}

type DepsParam struct {
	dig.In

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
	Storage    *Storage
	Registry   *prometheus.Registry
}

func newDeps(p DepsParam) *echoapi.Deps {
	return &echoapi.Deps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		Tokens:     p.Tokens,
		Identity:   p.Identity,
		Profiles:   p.Profiles,
		Faculty:    p.Faculty,
		Sessions:   p.Sessions,
		AccountSvc: p.AccountSvc,
		CodeGate:   p.CodeGate,
		Redis:      p.Storage.Redis,
		Registry:   p.Registry,
	}
}

// ShutdownSignal receives the signals that stop the API.
type ShutdownSignal chan os.Signal

func newShutdownSignal() ShutdownSignal {
	return make(ShutdownSignal, 1)
}

func newServer(conf *core.Config, shutdown ShutdownSignal, deps *echoapi.Deps) echoapi.Server {
	return echoapi.NewServer(conf.Server.Address, shutdown, deps)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newStoreLogger, dig.Name("storeLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(func(st *Storage) kv.Store { return st.Store }))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newRegistry))
	must(c.Provide(events.NewPublisher))
	must(c.Provide(identity.NewTokens))
	must(c.Provide(identity.NewLocalProvider, dig.As(new(identity.Provider))))
	must(c.Provide(profile.NewStore))
	must(c.Provide(faculty.NewRepository))
	must(c.Provide(accesscode.NewGate))
	must(c.Provide(account.NewService))
	must(c.Provide(newSessions))
	must(c.Provide(newDeps))
	must(c.Provide(newShutdownSignal))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(fmt.Sprintf("%+v", errors.Wrap(err, "failed to provide dependency")))
	}
}
