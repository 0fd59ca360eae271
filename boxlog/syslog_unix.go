//go:build !windows

package boxlog

import (
	"log/syslog"
)

// UseSyslog redirects the local (non-remote) half of logging to the
// system log under the given tag, replacing the default stderr writer.
// None of this module's commands call it, so they, like the tests,
// keep the stderr default unless a caller opts in.
func UseSyslog(tag string) error {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	localLogger = &syslogLogger{w: w}
	return nil
}

type syslogLogger struct {
	w *syslog.Writer
}

func (s *syslogLogger) Printf(format string, v ...interface{}) {
	s.w.Info(sprintf(format, v...))
}

func (s *syslogLogger) Print(v ...interface{}) {
	s.w.Info(sprint(v...))
}

func (s *syslogLogger) Println(v ...interface{}) {
	s.w.Info(sprint(v...))
}

func (s *syslogLogger) Fatal(v ...interface{}) {
	s.w.Crit(sprint(v...))
	fatalExit()
}

func (s *syslogLogger) Fatalf(format string, v ...interface{}) {
	s.w.Crit(sprintf(format, v...))
	fatalExit()
}
