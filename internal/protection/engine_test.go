package protection_test

import (
	"testing"

	"github.com/entityledger/core/internal/entity"
	"github.com/entityledger/core/internal/protection"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateStrictPriority(t *testing.T) {
	tests := []struct {
		name   string
		head   entity.Head
		edit   entity.EditDescriptor
		accept bool
		reason entity.RejectReason
	}{
		{"plain accept", entity.Head{}, entity.EditDescriptor{}, true, ""},
		{"archived wins over everything", entity.Head{Archived: true, Deleted: true, Locked: true}, entity.EditDescriptor{}, false, entity.RejectArchived},
		{"hard deleted before locked", entity.Head{Deleted: true, Locked: true}, entity.EditDescriptor{}, false, entity.RejectHardDeleted},
		{"locked before mass edit protected", entity.Head{Locked: true, MassEditProtected: true}, entity.EditDescriptor{IsMassEdit: true}, false, entity.RejectLocked},
		{"mass edit protected only trips on mass edit", entity.Head{MassEditProtected: true}, entity.EditDescriptor{IsMassEdit: false}, true, ""},
		{"mass edit protected trips on mass edit", entity.Head{MassEditProtected: true}, entity.EditDescriptor{IsMassEdit: true}, false, entity.RejectMassEditProtected},
		{"semi protected only trips on non-autoconfirmed", entity.Head{SemiProtected: true}, entity.EditDescriptor{IsNotAutoconfirmed: false}, true, ""},
		{"semi protected trips on non-autoconfirmed", entity.Head{SemiProtected: true}, entity.EditDescriptor{IsNotAutoconfirmed: true}, false, entity.RejectSemiProtected},
	}

	eng := protection.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eng.Evaluate(tt.head, tt.edit)
			assert.Equal(t, tt.accept, got.Accepted)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}
