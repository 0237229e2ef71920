package transfer

import (
	"github.com/sirupsen/logrus"
)

// Registry maps transfer ids to application-supplied handlers. It has no
// internal locking: it is mutated and read only on the worker goroutine,
// which observes registration changes strictly in event order.
type Registry struct {
	handlers map[uint32]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint32]Handler)}
}

// Add installs a handler for the transfer id, replacing any previous
// registration for the same id.
func (r *Registry) Add(transferID uint32, handler Handler) {
	_, replaced := r.handlers[transferID]
	r.handlers[transferID] = handler

	logrus.WithFields(logrus.Fields{
		"function":    "Add",
		"transfer_id": transferID,
		"replaced":    replaced,
	}).Debug("Transfer handler registered")
}

// Remove uninstalls the handler for the transfer id. Removing an id that
// was never registered is a no-op.
func (r *Registry) Remove(transferID uint32) {
	_, existed := r.handlers[transferID]
	delete(r.handlers, transferID)

	logrus.WithFields(logrus.Fields{
		"function":    "Remove",
		"transfer_id": transferID,
		"existed":     existed,
	}).Debug("Transfer handler removed")
}

// Lookup returns the handler registered for the transfer id.
func (r *Registry) Lookup(transferID uint32) (Handler, bool) {
	h, ok := r.handlers[transferID]
	return h, ok
}
