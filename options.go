package discussions

import (
	"log"

	"github.com/google/uuid"
)

// Option is a functional option for configuring a Store.
type Option func(*storeOptions)

// storeOptions holds optional Store collaborators.
type storeOptions struct {
	logger *log.Logger
	newID  func() string
}

func defaultOptions() *storeOptions {
	return &storeOptions{
		logger: log.Default(),
		newID:  uuid.NewString,
	}
}

// WithLogger sets the logger used for failures and index lifecycle messages.
func WithLogger(logger *log.Logger) Option {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator replaces the random UUID generator used for records
// stored without a discussion_id.
func WithIDGenerator(fn func() string) Option {
	return func(o *storeOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}
