// Package streaming provides resource controllers that hand high and low
// detail objects to an hlod tree.
package streaming

import "fmt"

// Kind tells high detail objects from low detail ones.
type Kind int

const (
	KindHigh Kind = iota
	KindLow
)

func (k Kind) String() string {
	if k == KindHigh {
		return "high"
	}
	return "low"
}

// Key names one object of a controller.
type Key struct {
	Kind Kind
	ID   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}
