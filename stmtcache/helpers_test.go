package stmtcache

import "github.com/rs/zerolog"

func zeroLogger() zerolog.Logger { return zerolog.Nop() }
