// Package logger provides structured logging for fanout using zerolog.
//
// Every field map handed to a Logger passes through Redact before it is
// written, so identifying values (e-mail addresses, phone numbers, bearer
// tokens, anything under a credential-like key) never reach the log sink.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"      # json | console
//	  output: "stdout"    # stdout | stderr | file
//	  file: "logs/fanoutd.log"
//	  max_size: 100       # megabytes, file output only
//
// # Usage
//
//	log := logger.New(&cfg.Logging, "fanoutd").WithComponent("orchestrator")
//	log.Info("run finalized", logger.Fields("run_id", id, "status", status))
package logger
