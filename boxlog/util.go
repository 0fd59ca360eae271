package boxlog

import (
	"fmt"
	"os"
)

func sprintf(format string, v ...interface{}) string { return fmt.Sprintf(format, v...) }
func sprint(v ...interface{}) string                 { return fmt.Sprint(v...) }

func fatalExit() { os.Exit(1) }
