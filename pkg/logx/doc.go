// Package logx configures tgfleet's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and size-rotated (lumberjack)
//   - An optional Telegram sink (min-level + rate limiting) for operator alerts
package logx
