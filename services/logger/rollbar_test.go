package logsvc

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/storage/kv"
)

func splitArgs(args []interface{}) (ctxs int, idents int, extras map[string]interface{}, errs []error) {
	for _, arg := range args {
		switch v := arg.(type) {
		case context.Context:
			ctxs++
		case identity.Identity:
			idents++
		case map[string]interface{}:
			extras = v
		case error:
			errs = append(errs, v)
		}
	}
	return
}

func TestRollbarLogger_prepare(t *testing.T) {
	var l RollbarLogger
	ana := identity.Identity{UID: "u1", Email: "ana@school.test", DisplayName: "Ana"}
	storeErr := kv.NewStoreError("patch", "users/u1/profile", errors.New("permission denied"))

	tests := []struct {
		name       string
		args       []interface{}
		wantCtx    int
		wantExtras map[string]interface{}
		wantErrs   int
	}{
		{name: "message only"},
		{
			name:    "identities become a single person",
			args:    []interface{}{ana, identity.Identity{UID: "u2"}},
			wantCtx: 1,
		},
		{
			name:       "store failures add their path",
			args:       []interface{}{storeErr, ana},
			wantCtx:    1,
			wantExtras: map[string]interface{}{"storeOp": "patch", "storePath": "users/u1/profile"},
			wantErrs:   1,
		},
		{
			name:       "extras are merged",
			args:       []interface{}{map[string]interface{}{"purged": 3}, core.NewShutdownError("store is gone")},
			wantExtras: map[string]interface{}{"purged": 3, "shutdown": true},
			wantErrs:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := l.prepare("faculty sweep", tt.args)
			assert.Equal(t, "faculty sweep", args[0])

			ctxs, idents, extras, errs := splitArgs(args)
			assert.Equal(t, tt.wantCtx, ctxs)
			assert.Zero(t, idents, "identities are never passed through")
			assert.Equal(t, tt.wantExtras, extras)
			assert.Len(t, errs, tt.wantErrs)
		})
	}
}
