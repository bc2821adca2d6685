package procspawn

import "go.uber.org/zap"

// nopLogger is used whenever a Builder doesn't set Logger, so call sites
// never need a nil check.
func nopLogger() *zap.Logger { return zap.NewNop() }
