// Package sshaudit records the operation history of remote sessions.
//
// Every connection attempt, transfer and remote mutation is written to the
// operation_logs table through [Auditor] and echoed to the standard logger.
// The history backs the "history" command and is purged after a retention
// period ([DefaultRetentionDays] unless configured).
//
// # Event Types
//
//   - [EventConnectionEstablished] and [EventConnectionFailed]: session setup.
//   - [EventDownloadFolder]: recursive download, with file and byte totals.
//   - [EventDownloadFile]: single file download.
//   - [EventDelete]: file or directory tree removal.
//   - [EventMove]: rename or move, with the destination in Target.
//
// Entries of one logical operation share an OperationID (a UUID assigned by
// the orchestrator).
//
// The package keeps a process-wide Auditor: [InitGlobal] creates it at startup
// and [GetAuditor] returns it, or nil when auditing is disabled.
package sshaudit
