package session

import (
	"errors"
	"fmt"
)

var (
	ErrEngine  = errors.New("engine error")
	ErrRemoved = errors.New("session removed")
	ErrClosed  = errors.New("session manager closed")
)

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}
