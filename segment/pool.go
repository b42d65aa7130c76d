package segment

import (
	"sync"

	"gocv.io/x/gocv"
)

// NetPool is a simple pool of identical DNN nets so several subjects can
// run inference concurrently, as Priority mode issues one decode per
// subject per cycle
type NetPool struct {
	// pool of nets
	nets chan *gocv.Net
	// size of pool
	size  int
	close sync.Once
}

// NewNetPool creates a new net pool loading the model size times
func NewNetPool(size int, modelFile string) (*NetPool, error) {

	p := &NetPool{
		nets: make(chan *gocv.Net, size),
		size: size,
	}

	for i := 0; i < size; i++ {
		net := gocv.ReadNet(modelFile, "")

		if net.Empty() {
			// close any instances that may have been created before
			// receiving the error
			p.Close()
			return nil, ErrModelLoad
		}

		// attach to pool
		p.Return(&net)
	}

	return p, nil
}

// Get a net from the pool
func (p *NetPool) Get() *gocv.Net {
	return <-p.nets
}

// Return a net to the pool
func (p *NetPool) Return(net *gocv.Net) {
	select {
	case p.nets <- net:
	default:
		// pool is full or closed
	}
}

// Close the pool and all nets in it
func (p *NetPool) Close() {
	p.close.Do(func() {
		// close channel
		close(p.nets)

		// close all nets
		for next := range p.nets {
			_ = next.Close()
		}
	})
}
