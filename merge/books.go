package merge

import (
	"time"

	"github.com/ledgerflow/ledgercore/entity"
)

var bookAccessors = accessors[*entity.Book]{
	id:       func(b *entity.Book) string { return string(b.ID) },
	envelope: func(b *entity.Book) entity.Envelope { return b.Envelope },
	withEnvelope: func(b *entity.Book, e entity.Envelope) *entity.Book {
		nb := *b
		nb.Envelope = e
		return &nb
	},
	mergeFields: mergeBookFields,
}

func mergeBookFields(local, cloud *entity.Book) (*entity.Book, []FieldConflict) {
	merged := *cloud
	var conflicts []FieldConflict

	if local.Name != cloud.Name {
		conflicts = append(conflicts, FieldConflict{Field: "name", LocalValue: local.Name, CloudValue: cloud.Name})
	}
	if local.Description != cloud.Description {
		conflicts = append(conflicts, FieldConflict{Field: "description", LocalValue: local.Description, CloudValue: cloud.Description})
	}
	if local.HasLockedRate != cloud.HasLockedRate || !local.LockedExchangeRate.Equal(cloud.LockedExchangeRate) || local.TargetCurrency != cloud.TargetCurrency {
		conflicts = append(conflicts, FieldConflict{
			Field:      "locked_exchange_rate",
			LocalValue: local.LockedExchangeRate.String() + "->" + local.TargetCurrency,
			CloudValue: cloud.LockedExchangeRate.String() + "->" + cloud.TargetCurrency,
		})
	}
	if local.Archived != cloud.Archived {
		conflicts = append(conflicts, FieldConflict{Field: "archived", LocalValue: boolStr(local.Archived), CloudValue: boolStr(cloud.Archived)})
	}

	return &merged, conflicts
}

// MergeBooks merges a user's local and cloud Book collections.
func MergeBooks(local, cloud []*entity.Book, now time.Time, by string) Result[*entity.Book] {
	return mergeCollection("book", local, cloud, now, by, bookAccessors)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
