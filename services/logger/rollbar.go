package logsvc

import (
	"context"
	"log"

	"github.com/pkg/errors"
	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/storage/kv"
)

type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(rollbarerrors.StackTracer)
	rollbar.SetCustom(map[string]interface{}{"storage": conf.StorageDriver})
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// prepare turns logger args into rollbar args.
// expected fmt: msg | error, map[string]interface{}, identity.Identity
//
// The first identity.Identity becomes the person of the item, through a context so that
// concurrent requests never report each other's account. A failing store path goes to the extras.
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var (
		person *rollbar.Person
		extras map[string]interface{}
	)
	addExtra := func(k string, v interface{}) {
		if extras == nil {
			extras = make(map[string]interface{})
		}
		extras[k] = v
	}

	newArgs := make([]interface{}, 0, len(args)+2)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch v := arg.(type) {
		case identity.Identity:
			if person == nil {
				person = &rollbar.Person{Id: v.UID, Username: v.DisplayName, Email: v.Email}
			}
		case map[string]interface{}:
			for k, val := range v {
				addExtra(k, val)
			}
		case error:
			var sErr *kv.StoreError
			if errors.As(v, &sErr) {
				addExtra("storeOp", sErr.Op)
				addExtra("storePath", sErr.Path)
			}
			if core.IsShutdown(v) {
				addExtra("shutdown", true)
			}
			newArgs = append(newArgs, v)
		default:
			newArgs = append(newArgs, arg)
		}
	}
	if extras != nil {
		newArgs = append(newArgs, extras)
	}
	if person != nil {
		newArgs = append(newArgs, rollbar.NewPersonContext(context.Background(), person))
	}
	return newArgs
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		if _, ok := arg.(error); ok {
			continue // already part of msg
		}
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print(msg, args)
	l.std.Fatal(msg)
}
