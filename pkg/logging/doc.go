// Package logging provides the structured logging used across testbed.
//
// It is a thin layer over Go's slog package. Every entry carries the subsystem
// that produced it so output from the analyzer, the provisioner and the
// orchestrator can be told apart when several test contexts run side by side.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Provisioner", "Started resource %s", name)
//	logging.Error("Orchestrator", err, "Teardown of %s incomplete", id)
//
// Test suites route output through InitForTest so that debug output is kept
// alongside the test log.
//
// Without initialization only warnings and errors are emitted, to stderr.
// This keeps library use quiet by default.
package logging
