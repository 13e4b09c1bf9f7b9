package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rjboer/sdrstream/internal/frame"
)

// ErrInvalidDescriptor reports a channel descriptor that cannot be started.
var ErrInvalidDescriptor = errors.New("invalid channel descriptor")

// Role says what a channel's samples represent to its consumers.
type Role string

const (
	RoleTime      Role = "time"
	RoleFrequency Role = "frequency"
	RoleRaw       Role = "raw"
)

// ParseRole accepts the role names, case-insensitively. Empty means raw.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RoleRaw, nil
	case RoleTime, RoleFrequency, RoleRaw:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidDescriptor, s)
	}
}

// Descriptor configures one channel: where to subscribe and how to
// interpret what arrives. It does not change once the channel is added.
type Descriptor struct {
	Name    string            `json:"name" yaml:"name"`
	Address string            `json:"address" yaml:"address"`
	Type    frame.ElementType `json:"type" yaml:"type"`
	Role    Role              `json:"role" yaml:"role"`
}

// Validate checks the descriptor and fills the default role. The address
// is only checked for presence; the transport rejects what it cannot use.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: channel %s: %v", ErrInvalidDescriptor, d.Name, d.Type)
	}
	role, err := ParseRole(string(d.Role))
	if err != nil {
		return fmt.Errorf("channel %s: %w", d.Name, err)
	}
	d.Role = role
	if strings.TrimSpace(d.Address) == "" {
		return fmt.Errorf("%w: channel %s: empty address", ErrInvalidDescriptor, d.Name)
	}
	return nil
}
