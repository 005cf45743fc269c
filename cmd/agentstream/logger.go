package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// newLogger builds the service logger. format "text" renders human-readable
// lines, colored when w is a terminal; anything else is JSON.
func newLogger(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	if format == "text" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05.000Z07:00",
			NoColor:    !isTerminal(w),
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == "error" {
					return tint.Attr(9, a)
				}
				if a.Value.Kind() == slog.KindAny {
					if _, ok := a.Value.Any().(error); ok {
						return tint.Attr(9, a)
					}
				}
				return a
			},
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// levelVar returns a LevelVar set to name, falling back to info.
func levelVar(name string) *slog.LevelVar {
	lv := new(slog.LevelVar)
	if err := lv.UnmarshalText([]byte(name)); err != nil {
		lv.Set(slog.LevelInfo)
	}
	return lv
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
