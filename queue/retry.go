package queue

import "time"

// Retry runs RetryFunc up to numTries times, sleeping between attempts while
// the returned error is retryable.
type Retry struct {
	sleepDuration time.Duration
	RetryFunc     func() error
	numTries      int
	retryable     func(error) bool
}

func NewRetry(numTries int, sleepDuration time.Duration, retryable func(error) bool, retryFunc func() error) *Retry {
	if numTries < 1 {
		numTries = 1
	}

	return &Retry{
		sleepDuration: sleepDuration,
		RetryFunc:     retryFunc,
		numTries:      numTries,
		retryable:     retryable,
	}
}

// Do returns the error of the last attempt.
func (r *Retry) Do() (err error) {
	for i := 0; i < r.numTries; i++ {
		err = r.RetryFunc()
		if err == nil {
			return nil
		}

		if r.retryable != nil && !r.retryable(err) {
			return err
		}

		if i < r.numTries-1 {
			time.Sleep(r.sleepDuration)
		}
	}

	return err
}
