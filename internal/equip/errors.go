package equip

import (
	"errors"

	"github.com/l1jgo/wield/internal/replication"
	"github.com/l1jgo/wield/internal/world"
)

var (
	ErrNotOwner                     = errors.New("peer does not own avatar")
	ErrAttachmentNodeNotFound       = world.ErrNodeNotFound
	ErrAuthorityLost                = errors.New("authority lost before attach")
	ErrAttachmentFailed             = errors.New("attachment failed")
	ErrAttachmentVerificationFailed = errors.New("attachment verification failed")
	ErrSpawnTimeout                 = errors.New("spawn timed out")
	ErrCancelled                    = errors.New("equip cancelled")
	ErrAvatarDespawned              = errors.New("avatar despawned")
	ErrInvalidSlot                  = world.ErrSlotOutOfRange

	// re-exported so callers need only this package for errors.Is
	ErrNoAuthority      = replication.ErrNoAuthority
	ErrAlreadyDespawned = replication.ErrAlreadyDespawned
)
