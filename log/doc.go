// Package log provides the leveled logging interface shared by the API server,
// the task worker and the agent runtime.
//
// Components accept a Logger and fall back to the package-level default when
// none is given. Three implementations are available:
//
//   - WriterLogger writes plain lines to an io.Writer. It is the default until
//     a binary installs its configured logger.
//   - GologLogger wraps github.com/kataras/golog. NewFileLogger builds one that
//     writes to a size-rotated file, optionally mirrored to stderr.
//   - NoOpLogger discards everything.
//
// # Example
//
//	logger, err := log.NewFileLogger(log.FileOptions{
//		Path:       "logfile/app.log",
//		MaxSizeMB:  5,
//		MaxBackups: 3,
//		Level:      log.LogLevelDebug,
//		Console:    true,
//	})
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//	log.SetDefaultLogger(logger)
//
//	mcpLog := log.Named(logger, "mcp")
//	mcpLog.Info("connected to %s", name)
package log
