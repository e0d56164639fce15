package world

import (
	"fmt"
	"strings"
)

// Vec3 is a local-space offset.
type Vec3 struct {
	X, Y, Z float32
}

// Transform is one node of an avatar's skeleton or of a spawned object.
// Parent/child links are the replicated state: reparenting an item under a
// joint is what observers see as "holding" it.
// Accessed only from the game loop goroutine.
type Transform struct {
	Name  string
	Local Vec3

	parent      *Transform
	children    []*Transform
	attachPoint bool
}

func NewTransform(name string) *Transform {
	return &Transform{Name: name}
}

func (t *Transform) Parent() *Transform { return t.parent }

// Children returns a copy of the child list.
func (t *Transform) Children() []*Transform {
	out := make([]*Transform, len(t.children))
	copy(out, t.children)
	return out
}

// SetParent moves t under p (nil detaches). Cycles are refused.
func (t *Transform) SetParent(p *Transform) error {
	if p == t.parent {
		return nil
	}
	for a := p; a != nil; a = a.parent {
		if a == t {
			return fmt.Errorf("reparent %s under %s: cycle", t.Name, p.Name)
		}
	}
	if t.parent != nil {
		t.parent.removeChild(t)
	}
	t.parent = p
	if p != nil {
		p.children = append(p.children, t)
	}
	return nil
}

func (t *Transform) removeChild(c *Transform) {
	for i, ch := range t.children {
		if ch == c {
			t.children = append(t.children[:i], t.children[i+1:]...)
			return
		}
	}
}

// MarkAttachPoint flags t as an attachment node for AttachmentRegistry.
func (t *Transform) MarkAttachPoint() { t.attachPoint = true }

func (t *Transform) IsAttachPoint() bool { return t.attachPoint }

// Walk visits t and its descendants depth-first, parents before children,
// siblings in insertion order.
func (t *Transform) Walk(fn func(*Transform)) {
	fn(t)
	for _, c := range t.children {
		c.Walk(fn)
	}
}

// Path returns the slash-separated path from the root, used in logs.
func (t *Transform) Path() string {
	var parts []string
	for n := t; n != nil; n = n.parent {
		parts = append(parts, n.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// JointSpec describes one joint of a rig definition.
type JointSpec struct {
	Name   string
	Parent string // "" for the root
	Attach bool   // joint is an attachment point
	Offset Vec3
}

// BuildSkeleton assembles a transform hierarchy from a flat joint list.
// Parents must be listed before their children and exactly one joint may
// have no parent.
func BuildSkeleton(joints []JointSpec) (*Transform, error) {
	if len(joints) == 0 {
		return nil, fmt.Errorf("build skeleton: no joints")
	}
	byName := make(map[string]*Transform, len(joints))
	var root *Transform
	for i, j := range joints {
		t := &Transform{Name: j.Name, Local: j.Offset, attachPoint: j.Attach}
		if j.Parent == "" {
			if root != nil {
				return nil, fmt.Errorf("build skeleton: second root %q at joint %d", j.Name, i)
			}
			root = t
		} else {
			p, ok := byName[j.Parent]
			if !ok {
				return nil, fmt.Errorf("build skeleton: joint %q references unknown parent %q", j.Name, j.Parent)
			}
			p.children = append(p.children, t)
			t.parent = p
		}
		// joint names may repeat (the registry reports it); parent lookups use the first
		if _, seen := byName[j.Name]; !seen {
			byName[j.Name] = t
		}
	}
	if root == nil {
		return nil, fmt.Errorf("build skeleton: no root joint")
	}
	return root, nil
}
