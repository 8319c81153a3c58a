package merge

import (
	"time"

	"github.com/ledgerflow/ledgercore/entity"
)

var categoryAccessors = accessors[*entity.Category]{
	id:       func(c *entity.Category) string { return string(c.ID) },
	envelope: func(c *entity.Category) entity.Envelope { return c.Envelope },
	withEnvelope: func(c *entity.Category, e entity.Envelope) *entity.Category {
		nc := *c
		nc.Envelope = e
		return &nc
	},
	mergeFields: mergeCategoryFields,
}

func mergeCategoryFields(local, cloud *entity.Category) (*entity.Category, []FieldConflict) {
	merged := *cloud
	var conflicts []FieldConflict

	if local.Name != cloud.Name {
		conflicts = append(conflicts, FieldConflict{Field: "name", LocalValue: local.Name, CloudValue: cloud.Name})
	}
	if local.Description != cloud.Description {
		conflicts = append(conflicts, FieldConflict{Field: "description", LocalValue: local.Description, CloudValue: cloud.Description})
	}
	if local.Color != cloud.Color {
		conflicts = append(conflicts, FieldConflict{Field: "color", LocalValue: local.Color, CloudValue: cloud.Color})
	}
	if local.Icon != cloud.Icon {
		conflicts = append(conflicts, FieldConflict{Field: "icon", LocalValue: local.Icon, CloudValue: cloud.Icon})
	}

	// IsDefault is never merged from cloud: it's assigned locally per
	//  and must survive regardless of which side "wins".
	merged.IsDefault = local.IsDefault || cloud.IsDefault

	return &merged, conflicts
}

// MergeCategories merges a user's local and cloud Category collections.
func MergeCategories(local, cloud []*entity.Category, now time.Time, by string) Result[*entity.Category] {
	return mergeCollection("category", local, cloud, now, by, categoryAccessors)
}
