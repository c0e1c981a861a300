package logging

import "context"

// Noop discards every log line. Tests use it where a Logger is required by
// an interface but assertions don't care about log output.
type Noop struct{}

func (Noop) Info(string, map[string]interface{})  {}
func (Noop) Error(string, map[string]interface{}) {}
func (Noop) Warn(string, map[string]interface{})  {}
func (Noop) Debug(string, map[string]interface{}) {}

func (Noop) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (Noop) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (Noop) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (Noop) DebugWithContext(context.Context, string, map[string]interface{}) {}

var _ Logger = Noop{}
