package obkv

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/obkv-table-client-go/metrics"
	"github.com/oceanbase/obkv-table-client-go/obkvlog"
	"github.com/oceanbase/obkv-table-client-go/observability"
	"github.com/oceanbase/obkv-table-client-go/wire"
)

// executeWithRetry resolves table/rowKey to an endpoint, sends payload,
// and decodes into result, retrying up to cfg.RuntimeRetryTimes times
// when the response footer reports a retriable ServerCode (spec §4.7): a
// not-master / partition-moved / master-session-changed / frozen /
// schema-version-mismatch error invalidates the route cache entry for
// (table, partitionKey) and re-resolves before the next attempt. Any
// other non-success footer is returned immediately as a non-retriable
// *ServerException.
func (c *Client) executeWithRetry(ctx context.Context, table string, rowKey []Value, tenantID uint32, sessionID uint32, channel wire.ChannelID, payload wire.Payload, result wire.Payload) error {
	eventID := ""
	if c.cfg.Observability != nil {
		eventID = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RuntimeRetryTimes; attempt++ {
		if attempt > 0 {
			metrics.Global().IncRetries()
		}
		ep, pk, err := c.resolve(ctx, table, rowKey)
		if err != nil {
			return err
		}

		start := time.Now()
		metrics.Global().IncRequestsSent()
		footer, err := ep.Send(ctx, channel, tenantID, sessionID, payload, result)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				c.publishEvent(eventID, table, channel, start, attempt, int32(ServerCodeUnknown), err)
				return NewTimeoutError(channel.String())
			}
			lastErr = NewTransportError(channel.String(), err)
			c.invalidateRoute(table, pk)
			c.publishEvent(eventID, table, channel, start, attempt, int32(ServerCodeUnknown), lastErr)
			continue
		}

		if footer.ErrorCode == int32(ServerCodeSuccess) {
			c.publishEvent(eventID, table, channel, start, attempt, footer.ErrorCode, nil)
			return nil
		}

		sc := ServerCode(footer.ErrorCode)
		svrErr := &ServerException{ServerCode: sc, Message: footer.ErrorMessage, TraceID: footer.ServerTraceID}
		if !sc.Retriable() {
			c.publishEvent(eventID, table, channel, start, attempt, footer.ErrorCode, svrErr)
			return svrErr
		}
		obkvlog.WithFields(map[string]interface{}{"table": table, "server_code": int32(sc), "attempt": attempt}).
			Warn("obkv: retriable server exception, invalidating route cache entry")
		c.invalidateRoute(table, pk)
		c.publishEvent(eventID, table, channel, start, attempt, footer.ErrorCode, svrErr)
		lastErr = svrErr
	}
	return lastErr
}

// publishEvent reports one attempt to the optional observability exporter
// (spec §13). It is a no-op unless a Broker was configured, and never
// blocks or errors the hot path: Broker.Publish itself is non-blocking.
func (c *Client) publishEvent(eventID, table string, channel wire.ChannelID, start time.Time, attempt int, serverCode int32, err error) {
	if c.cfg.Observability == nil {
		return
	}
	ev := observability.DispatchEvent{
		ID:         eventID,
		Table:      table,
		Channel:    channel,
		StartTime:  start,
		Duration:   time.Since(start),
		Attempt:    attempt,
		Retried:    attempt > 0,
		ServerCode: serverCode,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.cfg.Observability.Publish(ev)
}
