//go:build !linux && !darwin

package marquee

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

func (mq *Marquee) CtlServerStart(ctx context.Context, wg *sync.WaitGroup) error {
	return fmt.Errorf("the ctl interface is not supported on %s", runtime.GOOS)
}
