package marquee

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// MarqueeCtl is served over the control socket. Every method takes and
// returns a string so the socket stays usable from any JSON-RPC client.
type MarqueeCtl struct {
	mq *Marquee
}

// Status returns the Status document encoded as JSON.
func (ac *MarqueeCtl) Status(_ string, result *string) error {
	data, err := json.Marshal(ac.mq.Status())
	if err != nil {
		return err
	}
	*result = string(data)
	return nil
}

func (ac *MarqueeCtl) Version(_ string, result *string) error {
	*result = ac.mq.version
	return nil
}

func (ac *MarqueeCtl) Retry(_ string, result *string) error {
	ac.mq.Retry()
	*result = "Retrying"
	return nil
}

func (ac *MarqueeCtl) Reset(_ string, result *string) error {
	if err := ac.mq.Reset(); err != nil {
		return err
	}
	*result = "Pairing reset, a new code will be shown"
	return nil
}

// SetLogLevel changes the level of the running daemon, for example "debug".
func (ac *MarqueeCtl) SetLogLevel(level string, result *string) error {
	if ac.mq.logLevel == nil {
		return fmt.Errorf("log level cannot be changed")
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	ac.mq.logLevel.SetLevel(lvl)
	*result = "Log level set to " + lvl.String()
	return nil
}
