// Package logger provides leveled logging for the pipeline, writing to
// stdout and optionally mirroring into a run log file.
package logger

import (
	"io"
	"log"
	"os"
)

var (
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
	logFile  *os.File
)

// InitFile switches logging to a multiwriter over stdout and the given file.
// Called once at startup when a --log-file is requested.
func InitFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	logFile = f
	w := io.MultiWriter(os.Stdout, f)
	infoLog = log.New(w, "INFO: ", log.Ldate|log.Ltime)
	warnLog = log.New(w, "WARN: ", log.Ldate|log.Ltime)
	errorLog = log.New(w, "ERROR: ", log.Ldate|log.Ltime)
	return nil
}

// Close releases the run log file, if any.
func Close() {
	if logFile != nil {
		logFile.Close()
	}
}

func initDefault() {
	infoLog = log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime)
	warnLog = log.New(os.Stdout, "WARN: ", log.Ldate|log.Ltime)
	errorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime)
}

func Infof(format string, v ...interface{}) {
	if infoLog == nil {
		initDefault()
	}
	infoLog.Printf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	if warnLog == nil {
		initDefault()
	}
	warnLog.Printf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	if errorLog == nil {
		initDefault()
	}
	errorLog.Printf(format, v...)
}
