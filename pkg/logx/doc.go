// Package logx is the bot's structured logger: zerolog underneath, a small
// value-type Logger on top. Console output is human-readable, file output is
// JSON lines, and both can be switched on a config reload without handing
// out new loggers.
package logx
