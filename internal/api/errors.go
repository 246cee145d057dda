package api

import (
	"errors"
	"fmt"
)

var (
	errBadDate       = errors.New("date must be YYYY-MM-DD")
	errMissingDevice = errors.New("device_id is required")
)

func errUnknownAction(action string) error {
	return fmt.Errorf("unknown action %q", action)
}
