package alert

import (
	"fmt"
	"time"
)

// SiteMessage formats the body of a target health notification.
func SiteMessage(url, label string, statusCode int, elapsed time.Duration, checkErr error, recovered bool) string {
	state := "UNHEALTHY"
	if recovered {
		state = "RECOVERED"
	}
	if checkErr != nil {
		return fmt.Sprintf("site %s\nurl: %s\nlabel: %s\nerror: %v", state, url, label, checkErr)
	}
	return fmt.Sprintf("site %s\nurl: %s\nlabel: %s\nstatus: %d\nlatency: %.3fs",
		state, url, label, statusCode, elapsed.Seconds())
}

// ProcessMessage formats the body of a watchdog process notification.
func ProcessMessage(group string, pid *int, state string, restartAttempt uint) string {
	pidStr := "none"
	if pid != nil {
		pidStr = fmt.Sprintf("%d", *pid)
	}
	return fmt.Sprintf("monitor group %s\nstate: %s\npid: %s\nrestart attempts: %d",
		group, state, pidStr, restartAttempt)
}
