// Package common holds the configuration and logging setup shared by the papl
// command line tool and applications embedding the policy store.
//
// Logging is built on the dragonboat logger abstraction: every package declares
// a named logger with logger.GetLogger and InitLoggers installs a custom formatter
// and sets the configured level on all of them.
package common
