package account

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrRestoreWindowElapsed = errors.New("the restore window of this record has elapsed")

// ReconciliationConflict reports several live faculty records linked to the same account.
// The canonical one is kept; the duplicates are unlinked and soft-deleted.
type ReconciliationConflict struct {
	UID        string
	Canonical  string
	Duplicates []string
}

func (c *ReconciliationConflict) Error() string {
	return fmt.Sprintf("account %s is linked to %d faculty records: kept %s, retired %s",
		c.UID, len(c.Duplicates)+1, c.Canonical, strings.Join(c.Duplicates, ", "))
}
