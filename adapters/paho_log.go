package adapters

import (
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// pahoLogger adapts zerolog to the Println/Printf logger both paho
// libraries expect.
type pahoLogger struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (l pahoLogger) Println(v ...interface{}) {
	l.log.WithLevel(l.level).Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.log.WithLevel(l.level).Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// SetPahoLogger routes paho.mqtt.golang's package level loggers to log.
func SetPahoLogger(log zerolog.Logger) {
	mqtt.CRITICAL = pahoLogger{log: log, level: zerolog.ErrorLevel}
	mqtt.ERROR = pahoLogger{log: log, level: zerolog.ErrorLevel}
	mqtt.WARN = pahoLogger{log: log, level: zerolog.WarnLevel}
	mqtt.DEBUG = pahoLogger{log: log, level: zerolog.TraceLevel}
}
