// Package log provides structured logging for the hutch control plane,
// built on zerolog.
//
// A single global logger is initialized once by Init and consumed through
// child loggers: WithComponent tags a subsystem ("supervisor", "api",
// "ingress"), WithInstanceID and WithUserID tag the entities a line is
// about. Output is JSON for production or a human console format for
// development, selected by LOG_FORMAT.
//
// # Child Process Output
//
// LineWriter adapts an instance's stdout or stderr pipe into log lines:
// the supervisor wires one per stream, and every complete line the child
// writes becomes a structured entry tagged with the instance ID and
// stream name. Lines from stderr log at warn, stdout at debug, so a noisy
// child cannot masquerade as control-plane errors. Partial lines are
// buffered until their newline arrives; Flush emits whatever remains when
// the pipe closes.
//
// # Usage
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
//
//	logger := log.WithComponent("supervisor")
//	logger.Info().Str("instance_id", id).Msg("instance started")
//
//	cmd.Stdout = log.NewLineWriter(instance.ID, "stdout")
//	cmd.Stderr = log.NewLineWriter(instance.ID, "stderr")
//
// Secrets never belong in log lines: callers log key presence or length,
// not values.
package log
