package world

import (
	"errors"

	"github.com/l1jgo/wield/internal/core/ecs"
	"go.uber.org/zap"
)

// ErrNodeNotFound is returned by Resolve for unknown attachment names.
var ErrNodeNotFound = errors.New("attachment node not found")

// AttachmentNode is a named joint an item can be parented under.
type AttachmentNode struct {
	Name      string
	Avatar    ecs.EntityID
	Transform *Transform
}

// AttachmentRegistry indexes an avatar's attachment nodes by name.
// Built once at avatar spawn; read-only afterwards, so flows may share it
// without locking.
type AttachmentRegistry struct {
	nodes map[string]*AttachmentNode
	names []string // discovery order
}

// BuildAttachmentRegistry walks root and registers every transform marked as
// an attachment point. When two nodes share a name the first one found wins
// and the duplicate is logged.
func BuildAttachmentRegistry(avatar ecs.EntityID, root *Transform, log *zap.Logger) *AttachmentRegistry {
	r := &AttachmentRegistry{nodes: make(map[string]*AttachmentNode)}
	if root == nil {
		return r
	}
	root.Walk(func(t *Transform) {
		if !t.IsAttachPoint() {
			return
		}
		if first, dup := r.nodes[t.Name]; dup {
			if log != nil {
				log.Warn("duplicate attachment node ignored",
					zap.Stringer("avatar", avatar),
					zap.String("name", t.Name),
					zap.String("kept", first.Transform.Path()),
					zap.String("ignored", t.Path()),
				)
			}
			return
		}
		r.nodes[t.Name] = &AttachmentNode{Name: t.Name, Avatar: avatar, Transform: t}
		r.names = append(r.names, t.Name)
	})
	return r
}

// Resolve returns the node registered under name.
func (r *AttachmentRegistry) Resolve(name string) (*AttachmentNode, error) {
	n, ok := r.nodes[name]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// Names returns node names in discovery order.
func (r *AttachmentRegistry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *AttachmentRegistry) Len() int { return len(r.nodes) }
