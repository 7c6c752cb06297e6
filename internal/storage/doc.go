// Package storage persists what the daemon produces:
//   - daily OHLCV quotes collected by the built-in pipeline job
//   - job run history (started, duration, exit code)
package storage
