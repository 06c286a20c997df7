//go:build linux || darwin

package marquee

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/marquee-signage/marquee/internal/util"
)

const ctlRestartDelay = 5 * time.Second

func (mq *Marquee) CtlServerStart(ctx context.Context, wg *sync.WaitGroup) error {
	return mq.CtlServerUnixStart(ctx, wg)
}

func (mq *Marquee) createListener() (*net.UnixListener, error) {
	socketPath := mq.config.CtlSocket
	_ = os.Remove(socketPath)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		mq.logger.Error("Error creating unix socket: ", err)
		return nil, err
	}
	return l, nil
}

func (mq *Marquee) CtlServerUnixStart(ctx context.Context, wg *sync.WaitGroup) error {
	l, err := mq.createListener()
	if err != nil {
		return err
	}

	util.GoWithWaitGroup(wg, func() {
		for {
			// Use a different waitgroup here, because we want to make sure
			// all of the subroutines have exited before we attempt to restart
			// the control server.
			ctlWg := &sync.WaitGroup{}
			err := mq.CtlServerUnixRun(ctx, ctlWg, l)
			l.Close()
			ctlWg.Wait()
			if err == nil {
				// No error means it shut down cleanly because it got a message to stop
				break
			}
			mq.logger.Error("Ctl interface error, restarting: ", err)
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(ctlRestartDelay):
				}
				if l, err = mq.createListener(); err == nil {
					break
				}
			}
		}
		_ = os.Remove(mq.config.CtlSocket)
	})

	return nil
}

func (mq *Marquee) CtlServerUnixRun(ctx context.Context, ctlWg *sync.WaitGroup, l *net.UnixListener) error {
	server := rpc.NewServer()
	if err := server.RegisterName("MarqueeCtl", &MarqueeCtl{mq: mq}); err != nil {
		mq.logger.Error("Error registering the ctl service: ", err)
		return err
	}

	// This routine will exit when the listener is closed intentionally,
	// or some error occurs.
	errChan := make(chan error, 1)
	util.GoWithWaitGroup(ctlWg, func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				// Don't return an error if the context was canceled
				if ctx.Err() == nil {
					errChan <- err
				}
				return
			}
			util.GoWithWaitGroup(ctlWg, func() {
				server.ServeCodec(jsonrpc.NewServerCodec(conn))
			})
		}
	})

	select {
	case err := <-errChan:
		mq.logger.Error("Error on Accept(): ", err)
		return err
	case <-ctx.Done():
		mq.logger.Info("Stopping CtlServer")
		// unblock Accept
		_ = l.Close()
		return nil
	}
}
