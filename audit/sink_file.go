package audit

import (
	"context"
	"encoding/json"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSink writes events as JSON lines to a rotated file.
type FileSink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a file sink at the given path.
func NewFileSink(path string) *FileSink {
	return &FileSink{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			Compress:   true,
			LocalTime:  true,
		},
	}
}

func (s *FileSink) Deliver(_ context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(line)
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
