package events

import "github.com/andresuchdata/s3tar/internal/archive"

type multiHook []archive.Hook

// Multi fans each event out to every non-nil hook, in order.
func Multi(hooks ...archive.Hook) archive.Hook {
	var m multiHook
	for _, h := range hooks {
		if h != nil {
			m = append(m, h)
		}
	}
	return m
}

func (m multiHook) OnEvent(e archive.Event) {
	for _, h := range m {
		h.OnEvent(e)
	}
}
