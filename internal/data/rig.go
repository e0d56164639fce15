package data

import (
	"fmt"
	"os"

	"github.com/l1jgo/wield/internal/world"
	"gopkg.in/yaml.v3"
)

// RigTable holds avatar skeleton definitions by name.
type RigTable struct {
	rigs map[string][]world.JointSpec
}

type jointEntry struct {
	Name   string     `yaml:"name"`
	Parent string     `yaml:"parent"`
	Attach bool       `yaml:"attach"`
	Offset [3]float32 `yaml:"offset"`
}

type rigEntry struct {
	Name   string       `yaml:"name"`
	Joints []jointEntry `yaml:"joints"`
}

type rigListFile struct {
	Rigs []rigEntry `yaml:"rigs"`
}

func LoadRigTable(path string) (*RigTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rigs: %w", err)
	}
	t, err := ParseRigTable(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rigs %s: %w", path, err)
	}
	return t, nil
}

// ParseRigTable decodes rigs and checks that each one builds.
func ParseRigTable(raw []byte) (*RigTable, error) {
	var f rigListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	t := &RigTable{rigs: make(map[string][]world.JointSpec, len(f.Rigs))}
	for _, r := range f.Rigs {
		if _, dup := t.rigs[r.Name]; dup {
			return nil, fmt.Errorf("rig %q defined twice", r.Name)
		}
		joints := make([]world.JointSpec, len(r.Joints))
		for i, j := range r.Joints {
			joints[i] = world.JointSpec{
				Name:   j.Name,
				Parent: j.Parent,
				Attach: j.Attach,
				Offset: world.Vec3{X: j.Offset[0], Y: j.Offset[1], Z: j.Offset[2]},
			}
		}
		if _, err := world.BuildSkeleton(joints); err != nil {
			return nil, fmt.Errorf("rig %q: %w", r.Name, err)
		}
		t.rigs[r.Name] = joints
	}
	return t, nil
}

// Build returns a fresh skeleton for the named rig.
func (t *RigTable) Build(name string) (*world.Transform, error) {
	joints, ok := t.rigs[name]
	if !ok {
		return nil, fmt.Errorf("unknown rig %q", name)
	}
	return world.BuildSkeleton(joints)
}

func (t *RigTable) Has(name string) bool {
	_, ok := t.rigs[name]
	return ok
}

func (t *RigTable) Count() int { return len(t.rigs) }
