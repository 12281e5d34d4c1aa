// Package usecase contains the operations behind the CLI commands.
package usecase

import (
	"context"

	"github.com/google/uuid"
)

// NewSessionOutput contains the new session identity.
type NewSessionOutput struct {
	ID string
}

// NewSession is the use case for minting an owner identity.
type NewSession struct{}

// Execute returns a fresh random session id.
func (uc *NewSession) Execute(_ context.Context) (*NewSessionOutput, error) {
	return &NewSessionOutput{ID: uuid.NewString()}, nil
}
