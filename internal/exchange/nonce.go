package exchange

import (
	"context"
	"strconv"
	"time"
)

// WallClockNonce yields the current Unix second as the order nonce. Two
// orders built within the same second collide; single-shot pipelines never
// hit that, and deployments that might should use a counter-backed source
// instead.
type WallClockNonce struct{}

// Next implements domain.NonceSource.
func (WallClockNonce) Next(context.Context) (string, error) {
	return strconv.FormatInt(time.Now().Unix(), 10), nil
}
