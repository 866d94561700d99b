/*Package newport drives Newport XPS series motion controllers over their
native TCP API, and provides an in-process mock of one for testing and
dry runs.
*/
package newport

import "github.com/nasa-jpl/pumpprobe/motion"

// Driver is the subset of XPS behavior shared by the real controller and the mock
type Driver interface {
	motion.Controller
	motion.Homer

	// Reconnect re-establishes communication with the controller
	Reconnect() error
}

// Positioner returns the named positioner of d as a motion.Axis
func Positioner(d Driver, name string) motion.Axis {
	return motion.Bind(d, name)
}
