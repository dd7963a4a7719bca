package sqlxrepos

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
)

// nullTime maps zero time.Time values to SQL NULL and back.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func fromNullTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

func trapNoRowsErr(err, notFoundErr error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}
	return errors.Wrap(err, msg)
}

// orderByClause builds an ORDER BY clause from the requested orderings.
// Field names come from query parameters; only names present in allowed are
// interpolated, mapped to their column expression. Anything else is dropped.
func orderByClause(ordering []core.DBOrdering, allowed map[string]string, dflt string) string {
	cols := make([]string, 0, len(ordering))
	for _, o := range ordering {
		col, ok := allowed[o.Field]
		if !ok {
			continue
		}
		cols = append(cols, core.DBOrdering{Field: col, Ascending: o.Ascending}.String())
	}
	if len(cols) == 0 {
		if dflt == "" {
			return ""
		}
		return ` ORDER BY ` + dflt
	}
	return ` ORDER BY ` + strings.Join(cols, `, `)
}
