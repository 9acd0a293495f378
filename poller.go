package monarch

import (
	"context"
	"time"
)

const defaultPollInterval = time.Second

// waitFor polls probe until it reports done, an unretryable error occurs, or
// the overall budget expires. The first probe fires immediately; subsequent
// probes are spaced by pollInterval, never faster. The budget is enforced
// through a derived deadline so a probe in flight when time runs out is cut
// short too.
//
// Expiry of the budget surfaces as [ErrWaitTimeout] with
// [ConditionTimeout]; cancellation of the caller's own context surfaces as
// [ConditionCancelled].
func (c *Client) waitFor(ctx context.Context, name string, timeout, pollInterval time.Duration, probe func(context.Context) (bool, error)) error {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	wctx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	polls := 0
	for {
		polls++
		done, err := probe(wctx)
		if err != nil {
			if expired, terr := c.waitExpired(ctx, wctx, name, polls); expired {
				return terr
			}
			return err
		}
		if done {
			return nil
		}

		select {
		case <-wctx.Done():
			if expired, terr := c.waitExpired(ctx, wctx, name, polls); expired {
				return terr
			}
			return &Error{
				Class:     ClassUnknown,
				Condition: ConditionCancelled,
				Operation: name,
				Attempts:  polls,
				Err:       ctx.Err(),
			}
		case <-time.After(pollInterval):
		}
	}
}

// waitExpired distinguishes "the wait budget ran out" from "the caller's own
// context ended". Only the former is the poller's timeout.
func (c *Client) waitExpired(ctx, wctx context.Context, name string, polls int) (bool, error) {
	if wctx.Err() == nil || ctx.Err() != nil {
		return false, nil
	}
	c.metricInc(MetricPollTimeout)
	c.logger.V(1).Info("wait budget exhausted", "operation", name, "polls", polls)
	return true, &Error{
		Class:     ClassUnknown,
		Condition: ConditionTimeout,
		Operation: name,
		Attempts:  polls,
		Err:       ErrWaitTimeout,
	}
}
