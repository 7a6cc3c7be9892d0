package sshaudit

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

// LogConnection records a successful session setup on the global Auditor.
func LogConnection(session, username string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			Session:   session,
			EventType: EventConnectionEstablished,
			Details:   "user=" + username,
		})
	}
}

// LogConnectionFailed records a failed session setup on the global Auditor.
func LogConnectionFailed(session, username, reason string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			Session:   session,
			EventType: EventConnectionFailed,
			Status:    StatusFailed,
			Details:   "user=" + username + " reason=" + reason,
		})
	}
}

// Summary renders an entry's totals for display, e.g. "12 files, 3.4MiB".
func Summary(files int, bytes int64) string {
	var parts []string
	if files > 0 {
		noun := "files"
		if files == 1 {
			noun = "file"
		}
		parts = append(parts, fmt.Sprintf("%d %s", files, noun))
	}
	if bytes > 0 {
		parts = append(parts, units.BytesSize(float64(bytes)))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}
