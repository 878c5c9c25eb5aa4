// Package rotation tracks whether this instance should receive traffic from
// the load balancer.
package rotation

import (
	"errors"
	"sync/atomic"

	apierrors "github.com/wudi/hyperfast/internal/errors"
	"github.com/wudi/hyperfast/internal/response"
	"github.com/wudi/hyperfast/internal/route"
)

// ErrOutOfRotation is the cause reported by Status while out of rotation.
var ErrOutOfRotation = errors.New("NOK")

// Controller holds the rotation and shutdown flags. A new controller starts
// out of rotation. Once shut down it stays out of rotation.
type Controller struct {
	inRotation atomic.Bool
	shutdown   atomic.Bool
}

// New creates a controller that is out of rotation.
func New() *Controller {
	return &Controller{}
}

// InRotation reports the current rotation state.
func (c *Controller) InRotation() bool {
	return c.inRotation.Load()
}

// ShuttingDown reports whether Shutdown has been called.
func (c *Controller) ShuttingDown() bool {
	return c.shutdown.Load()
}

// Flip toggles the rotation state and returns the new one. After shutdown it
// is a no-op returning false.
func (c *Controller) Flip() bool {
	for {
		if c.shutdown.Load() {
			return false
		}
		old := c.inRotation.Load()
		if c.inRotation.CompareAndSwap(old, !old) {
			break
		}
	}
	// A shutdown that raced with the flip wins.
	if c.shutdown.Load() {
		c.inRotation.Store(false)
		return false
	}
	return c.inRotation.Load()
}

// SetInRotation forces the rotation state unless shut down.
func (c *Controller) SetInRotation(in bool) {
	if c.shutdown.Load() {
		return
	}
	c.inRotation.Store(in)
	if c.shutdown.Load() {
		c.inRotation.Store(false)
	}
}

// Shutdown marks the instance as terminating and takes it out of rotation.
func (c *Controller) Shutdown() {
	c.shutdown.Store(true)
	c.inRotation.Store(false)
}

// Toggle flips the state and reports the resulting status.
func (c *Controller) Toggle(rt *route.Route) (*response.Response, error) {
	c.Flip()
	return c.Status(rt)
}

// Status answers 200 "OK" while in rotation and an internal server error
// carrying "NOK" otherwise.
func (c *Controller) Status(rt *route.Route) (*response.Response, error) {
	if !c.InRotation() {
		return nil, apierrors.Internal(ErrOutOfRotation)
	}
	return response.String(rt, "OK"), nil
}
