//go:build !unix

package peon

import "os"

func defaultSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
