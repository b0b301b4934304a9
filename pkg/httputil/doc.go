// Package httputil provides HTTP helpers shared by the bot and the API server.
//
// # Retry
//
// [Retry] re-runs an operation that failed with a [RetryableError], doubling
// the delay between attempts. A RetryableError may carry an explicit wait
// (After), which is how Telegram's retry_after hint on 429 responses is
// honoured:
//
//	err := httputil.Retry(ctx, 3, time.Second, func() error {
//	    _, err := api.Send(msg)
//	    return classify(err) // wraps 429/5xx in *RetryableError
//	})
//
// # Download
//
// [Download] fetches a URL into memory with a hard size limit. Network
// failures and 5xx responses are returned as retryable so callers can wrap
// the call in [Retry]. Requests and responses are reported to
// [observability.HTTP] with bot tokens stripped from the path.
package httputil
