package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches consulted before any module operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the named module is paused. A nil view or
// empty module name means no pause wiring, which is treated as unpaused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
