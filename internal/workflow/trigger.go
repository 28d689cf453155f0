package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// Trigger ids are derived only from data every replica observes for the
// same event, so replicas land in the same consensus round.

// CronTrigger names a scheduled tick of job at its scheduled minute.
func CronTrigger(job string, at time.Time) domain.Trigger {
	at = at.UTC().Truncate(time.Minute)
	return domain.Trigger{
		ID:   fmt.Sprintf("cron:%s:%d", job, at.Unix()),
		Kind: domain.TriggerCron,
		AsOf: at,
	}
}

// SessionTrigger names a session scan tick.
func SessionTrigger(at time.Time) domain.Trigger {
	t := CronTrigger("sessions", at)
	t.Kind = domain.TriggerSession
	return t
}

// HTTPTrigger names an HTTP request by its body and as-of time.
func HTTPTrigger(body []byte, asOf time.Time) domain.Trigger {
	sum := sha256.Sum256(body)
	asOf = asOf.UTC()
	return domain.Trigger{
		ID:   fmt.Sprintf("http:%s:%d", hex.EncodeToString(sum[:8]), asOf.Unix()),
		Kind: domain.TriggerHTTP,
		AsOf: asOf,
	}
}

// LogTrigger names a chain log by transaction and log index.
func LogTrigger(req domain.SettlementRequest, blockTime time.Time) domain.Trigger {
	return domain.Trigger{
		ID:   fmt.Sprintf("log:%s:%d", req.TxHash.Hex(), req.LogIndex),
		Kind: domain.TriggerLog,
		AsOf: blockTime.UTC(),
	}
}

// ManualTrigger names a one-off CLI invocation.
func ManualTrigger(name string, at time.Time) domain.Trigger {
	at = at.UTC().Truncate(time.Second)
	return domain.Trigger{
		ID:   fmt.Sprintf("manual:%s:%d", name, at.Unix()),
		Kind: domain.TriggerManual,
		AsOf: at,
	}
}
