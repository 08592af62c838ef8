package cohort

import (
	"fmt"
	"time"

	"github.com/cohort/cohort/internal/platform/dialect"
	"github.com/cohort/cohort/internal/platform/sqlset"
)

// lookbackMonths widens the start of non-first sequence subpanels so events
// preceding the window can still anchor a following step.
const lookbackMonths = -6

func unitOf(t DateIncrementType) (dialect.DateUnit, bool) {
	switch t {
	case DateMinute:
		return dialect.Minute, true
	case DateHour:
		return dialect.Hour, true
	case DateDay:
		return dialect.Day, true
	case DateWeek:
		return dialect.Week, true
	case DateMonth:
		return dialect.Month, true
	case DateYear:
		return dialect.Year, true
	}
	return 0, false
}

// DateExpression converts a boundary to an expression. An absolute end
// boundary is snapped to 23:59:59 of its day so the whole day is included.
func DateExpression(b DateBoundary, end bool) (sqlset.Expr, error) {
	switch b.Type {
	case DateSpecific:
		if b.Date == nil {
			return nil, fmt.Errorf("%w: specific boundary has no date", ErrUnknownDateIncrement)
		}
		t := *b.Date
		if end {
			t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
		}
		return sqlset.Timestamp{Time: t}, nil
	case DateNow:
		return sqlset.Now{}, nil
	}
	unit, ok := unitOf(b.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDateIncrement, b.Type)
	}
	return sqlset.DateAdd{Unit: unit, Amount: b.Increment, Expr: sqlset.Now{}}, nil
}

// dateWindow builds the predicate bounding field by f. With lookback the
// start is moved back and the end is left open.
func dateWindow(field sqlset.Expr, f *DateFilter, lookback bool) (sqlset.Expr, error) {
	start, err := DateExpression(f.Start, false)
	if err != nil {
		return nil, err
	}
	if lookback {
		return sqlset.Compare{
			Left:  field,
			Op:    sqlset.Gte,
			Right: sqlset.DateAdd{Unit: dialect.Month, Amount: lookbackMonths, Expr: start},
		}, nil
	}
	end, err := DateExpression(f.End, true)
	if err != nil {
		return nil, err
	}
	return sqlset.Between{Expr: field, Low: start, High: end}, nil
}

// DateWindow bounds field by f, inclusive at both ends.
func DateWindow(field sqlset.Expr, f *DateFilter) (sqlset.Expr, error) {
	return dateWindow(field, f, false)
}
