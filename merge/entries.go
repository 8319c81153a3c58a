package merge

import (
	"time"

	"github.com/ledgerflow/ledgercore/entity"
)

var entryAccessors = accessors[*entity.Entry]{
	id:       func(e *entity.Entry) string { return string(e.ID) },
	envelope: func(e *entity.Entry) entity.Envelope { return e.Envelope },
	withEnvelope: func(e *entity.Entry, env entity.Envelope) *entity.Entry {
		ne := *e
		ne.Envelope = env
		return &ne
	},
	mergeFields: mergeEntryFields,
}

func mergeEntryFields(local, cloud *entity.Entry) (*entity.Entry, []FieldConflict) {
	merged := *cloud
	var conflicts []FieldConflict

	if !local.Amount.Equal(cloud.Amount) {
		conflicts = append(conflicts, FieldConflict{Field: "amount", LocalValue: local.Amount.String(), CloudValue: cloud.Amount.String()})
	}
	if local.CategoryID != cloud.CategoryID {
		conflicts = append(conflicts, FieldConflict{Field: "category_id", LocalValue: string(local.CategoryID), CloudValue: string(cloud.CategoryID)})
	}
	if local.BookID != cloud.BookID {
		conflicts = append(conflicts, FieldConflict{Field: "book_id", LocalValue: string(local.BookID), CloudValue: string(cloud.BookID)})
	}
	if local.Party != cloud.Party {
		conflicts = append(conflicts, FieldConflict{Field: "party", LocalValue: local.Party, CloudValue: cloud.Party})
	}
	if local.PaymentMode != cloud.PaymentMode {
		conflicts = append(conflicts, FieldConflict{Field: "payment_mode", LocalValue: string(local.PaymentMode), CloudValue: string(cloud.PaymentMode)})
	}
	if !local.Date.Equal(cloud.Date) {
		conflicts = append(conflicts, FieldConflict{Field: "date", LocalValue: local.Date.String(), CloudValue: cloud.Date.String()})
	}
	if local.Remarks != cloud.Remarks {
		conflicts = append(conflicts, FieldConflict{Field: "remarks", LocalValue: local.Remarks, CloudValue: cloud.Remarks})
	}

	return &merged, conflicts
}

// MergeEntries merges a user's local and cloud Entry collections.
func MergeEntries(local, cloud []*entity.Entry, now time.Time, by string) Result[*entity.Entry] {
	return mergeCollection("entry", local, cloud, now, by, entryAccessors)
}
