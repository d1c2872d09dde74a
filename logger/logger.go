package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	AppLogger     *log.Logger
	CaptureLogger *log.Logger
	ErrorLogger   *log.Logger

	mu             sync.RWMutex
	logLevel       string
	appLogFile     *os.File
	captureLogFile *os.File
	initialized    bool
)

const logFlags = log.Ldate | log.Ltime | log.Lshortfile

// openLogWriter creates the parent directory and opens path for appending.
// On failure the channel is discarded and "(discarded)" is reported as its path.
func openLogWriter(path, channel string) (io.Writer, *os.File, string) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		ErrorLogger.Printf("Failed to create %s log directory %s: %v. %s logs (Info/Debug) will be discarded.", channel, dir, err, channel)
		return io.Discard, nil, "(discarded)"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		ErrorLogger.Printf("Failed to open %s log file %s: %v. %s logs (Info/Debug) will be discarded.", channel, path, err, channel)
		return io.Discard, nil, "(discarded)"
	}
	return f, f, path
}

func InitGlobalLoggers(appLogPath, captureLogPath, level string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized && appLogFile != nil && captureLogFile != nil && strings.ToUpper(level) == logLevel {
		return nil
	}
	closeFilesLocked()

	logLevel = strings.ToUpper(level)
	if logLevel == "" {
		logLevel = "INFO"
	}

	ErrorLogger = log.New(os.Stderr, "ERROR: ", logFlags)

	appWriter, appFile, actualAppLogPath := openLogWriter(appLogPath, "app")
	appLogFile = appFile
	AppLogger = log.New(appWriter, "APP: ", logFlags)

	captureWriter, captureFile, actualCaptureLogPath := openLogWriter(captureLogPath, "capture")
	captureLogFile = captureFile
	CaptureLogger = log.New(captureWriter, "CAPTURE: ", logFlags)

	if !initialized {
		AppLogger.Printf("App logger initialized. Log level: %s. Output file: %s", logLevel, actualAppLogPath)
		CaptureLogger.Printf("Capture logger initialized. Log level: %s. Output file: %s", logLevel, actualCaptureLogPath)
	}
	initialized = true
	return nil
}

// SetOutput points every channel at w with the given level. Used by tests and
// by commands that want logs on the terminal.
func SetOutput(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	closeFilesLocked()
	logLevel = strings.ToUpper(level)
	if logLevel == "" {
		logLevel = "INFO"
	}
	AppLogger = log.New(w, "APP: ", logFlags)
	CaptureLogger = log.New(w, "CAPTURE: ", logFlags)
	ErrorLogger = log.New(w, "ERROR: ", logFlags)
	initialized = true
}

func enabled(levels ...string) bool {
	for _, l := range levels {
		if logLevel == l {
			return true
		}
	}
	return false
}

func Info(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if AppLogger != nil && enabled("INFO", "DEBUG") {
		AppLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func Debug(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if AppLogger != nil && enabled("DEBUG") {
		AppLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Warn also shows when the level is INFO or DEBUG.
func Warn(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if AppLogger != nil && enabled("WARN", "INFO", "DEBUG") {
		AppLogger.Output(2, "WARN: "+fmt.Sprintf(format, v...))
	}
}

func Error(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Output(2, message)
	}
	if AppLogger != nil && appLogFile != nil {
		AppLogger.Output(2, message)
	}
}

func Fatal(format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Fatal(message)
	} else {
		log.Fatal(message)
	}
}

func CaptureInfo(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if CaptureLogger != nil && enabled("INFO", "DEBUG") {
		CaptureLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func CaptureDebug(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if CaptureLogger != nil && enabled("DEBUG") {
		CaptureLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

func CaptureError(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	message := fmt.Sprintf(format, v...)
	if ErrorLogger != nil {
		ErrorLogger.Output(2, message)
	}
	if CaptureLogger != nil && captureLogFile != nil {
		CaptureLogger.Output(2, message)
	}
}

func closeFilesLocked() {
	if appLogFile != nil {
		AppLogger.Println("Closing app log file.")
		appLogFile.Close()
		appLogFile = nil
	}
	if captureLogFile != nil {
		CaptureLogger.Println("Closing capture log file.")
		captureLogFile.Close()
		captureLogFile = nil
	}
}

func CloseLogFiles() {
	mu.Lock()
	defer mu.Unlock()
	closeFilesLocked()
	initialized = false
}
