package slogx

import (
	"context"
	"log/slog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// DiscardLogger returns a logger that drops every record. Meant for tests and
// for components whose caller did not supply a logger.
func DiscardLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

func IsDiscard(l *slog.Logger) bool {
	_, ok := l.Handler().(discardHandler)
	return ok
}

func Err(err error) slog.Attr {
	return slog.String("err", err.Error())
}
