package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/jfinnert/bite-map/internal/domain"
)

const maxAttempts = 3

// withRetry runs op, retrying only transient I/O failures with a short
// backoff. Domain errors and SQL results pass through untouched; a failure
// that survives every attempt surfaces as ErrUnavailable.
func (r *Repo) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i+1).Msg("transient store error")
		if i < maxAttempts-1 {
			t := time.NewTimer(time.Duration(1<<i) * 100 * time.Millisecond)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return errors.Join(domain.ErrUnavailable, lastErr)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		}
	}
	return false
}
