package common

import "time"

// Retry runs fn up to attempts times, sleeping backoff between tries and
// calling onRetry (if non-nil) with the attempt number and error before
// each retry. Modeled on the common.NewRetryHelper + logging.Warnf idiom
// in secondary/indexer/util.go's GetCurrentKVTs, generalized into a
// freestanding helper since this repo doesn't carry the indexer's
// gometa-backed RetryHelper type.
func Retry(attempts int, backoff time.Duration, onRetry func(attempt int, err error), fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if onRetry != nil {
				onRetry(i, err)
			}
			time.Sleep(backoff)
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
