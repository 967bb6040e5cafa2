// Package logx configures osmwatch's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - Optional file output JSON-structured
//   - Log level switchable at runtime (config hot reload)
package logx
