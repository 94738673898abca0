// Package trace defines the optional call-lifecycle observer.
//
// The core never requires an observer: both server and client default to
// Nop. The zap implementation reproduces the console tracing of the demo
// tooling as structured logs.
package trace

import (
	"time"

	"go.uber.org/zap"

	"order-rpc/message"
)

// Observer is notified of call lifecycle events. Implementations must be
// safe for concurrent use; calls happen on hot paths, so they should be
// cheap.
type Observer interface {
	CallStarted(method string, streamID uint32)
	MessageSent(method string, streamID uint32)
	MessageReceived(method string, streamID uint32)
	CallFinished(method string, streamID uint32, code message.Code, err error, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) CallStarted(string, uint32)                                    {}
func (Nop) MessageSent(string, uint32)                                    {}
func (Nop) MessageReceived(string, uint32)                                {}
func (Nop) CallFinished(string, uint32, message.Code, error, time.Duration) {}

// ZapObserver logs lifecycle events through a zap logger.
type ZapObserver struct {
	log *zap.Logger
}

func NewZapObserver(log *zap.Logger) *ZapObserver {
	return &ZapObserver{log: log}
}

// NewDevelopment builds an observer over zap's development config
// (human-readable console output with colored levels).
func NewDevelopment() (*ZapObserver, error) {
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &ZapObserver{log: log}, nil
}

func (o *ZapObserver) CallStarted(method string, streamID uint32) {
	o.log.Info("call started",
		zap.String("method", method),
		zap.Uint32("stream", streamID))
}

func (o *ZapObserver) MessageSent(method string, streamID uint32) {
	o.log.Debug("message sent",
		zap.String("method", method),
		zap.Uint32("stream", streamID))
}

func (o *ZapObserver) MessageReceived(method string, streamID uint32) {
	o.log.Debug("message received",
		zap.String("method", method),
		zap.Uint32("stream", streamID))
}

func (o *ZapObserver) CallFinished(method string, streamID uint32, code message.Code, err error, d time.Duration) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.Uint32("stream", streamID),
		zap.Stringer("code", code),
		zap.Duration("duration", d),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		o.log.Warn("call finished", fields...)
		return
	}
	o.log.Info("call finished", fields...)
}
