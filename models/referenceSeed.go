package models

import (
	"context"

	"github.com/custodia-platform/absences_backend/categorisation"
	"github.com/custodia-platform/absences_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type seedEntry struct {
	Domain      categorisation.Domain
	Code        string
	Description string
	Seq         int
}

type seedLink struct {
	FromDomain   categorisation.Domain
	FromCode     string
	TargetDomain categorisation.Domain
	ToCode       string
}

var defaultEntries = []seedEntry{
	{categorisation.DomainType, "SR", "Short-term release", 1},
	{categorisation.DomainType, "PP", "Police production", 2},
	{categorisation.DomainType, "RR", "Release on recall review", 3},

	{categorisation.DomainSubType, "RDR", "Resettlement day release", 1},
	{categorisation.DomainSubType, "ROR", "Resettlement overnight release", 2},
	{categorisation.DomainSubType, "SPL", "Special purpose licence", 3},

	{categorisation.DomainReasonCategory, "PW", "Paid work", 1},
	{categorisation.DomainReasonCategory, "FB", "Family bonds", 2},
	{categorisation.DomainReasonCategory, "ET", "Education and training", 3},

	{categorisation.DomainReason, "R15", "Paid work placement", 1},
	{categorisation.DomainReason, "R16", "Voluntary work placement", 2},
	{categorisation.DomainReason, "R20", "Compassionate visit", 3},
	{categorisation.DomainReason, "R31", "Childcare resettlement", 4},

	{categorisation.DomainAccompaniment, "A", "Accompanied", 1},
	{categorisation.DomainAccompaniment, "U", "Unaccompanied", 2},
	{categorisation.DomainAccompaniment, "L", "Accompanied by approved person", 3},

	{categorisation.DomainTransport, "OD", "Operator driven", 1},
	{categorisation.DomainTransport, "PT", "Public transport", 2},
	{categorisation.DomainTransport, "OWN", "Own transport", 3},
}

var defaultLinks = []seedLink{
	{categorisation.DomainType, "SR", categorisation.DomainSubType, "RDR"},
	{categorisation.DomainType, "SR", categorisation.DomainSubType, "ROR"},
	{categorisation.DomainType, "SR", categorisation.DomainSubType, "SPL"},

	{categorisation.DomainSubType, "RDR", categorisation.DomainReasonCategory, "PW"},
	{categorisation.DomainSubType, "ROR", categorisation.DomainReasonCategory, "FB"},
	{categorisation.DomainSubType, "SPL", categorisation.DomainReasonCategory, "FB"},
	{categorisation.DomainSubType, "SPL", categorisation.DomainReasonCategory, "ET"},

	{categorisation.DomainReasonCategory, "PW", categorisation.DomainReason, "R15"},
	{categorisation.DomainReasonCategory, "PW", categorisation.DomainReason, "R16"},
	{categorisation.DomainReasonCategory, "FB", categorisation.DomainReason, "R20"},
	{categorisation.DomainReasonCategory, "FB", categorisation.DomainReason, "R31"},
}

// SeedReferenceData upserts the default catalog entries and links. Safe to
// run repeatedly; existing rows keep their ids, descriptions are refreshed.
func SeedReferenceData(tx *gorm.DB, ctx context.Context) error {
	for _, e := range defaultEntries {
		entry := ReferenceEntry{
			Domain:         string(e.Domain),
			Code:           e.Code,
			Description:    e.Description,
			SequenceNumber: e.Seq,
			IsActive:       utils.NewTrue(),
		}
		err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "domain"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "sequence_number"}),
		}).Create(&entry).Error
		if err != nil {
			return err
		}
	}

	idByDomainCode := map[string]int{}
	var rows []ReferenceEntry
	if err := tx.WithContext(ctx).Find(&rows).Error; err != nil {
		return err
	}
	for _, r := range rows {
		idByDomainCode[r.Domain+":"+r.Code] = r.ID
	}

	for _, l := range defaultLinks {
		fromId, ok := idByDomainCode[string(l.FromDomain)+":"+l.FromCode]
		if !ok {
			return utils.ErrCategorisationNotFound("seed link source %s %s not found", l.FromDomain, l.FromCode)
		}
		toId, ok := idByDomainCode[string(l.TargetDomain)+":"+l.ToCode]
		if !ok {
			return utils.ErrCategorisationNotFound("seed link target %s %s not found", l.TargetDomain, l.ToCode)
		}
		link := ReferenceLink{
			FromEntryId:  fromId,
			ToEntryId:    toId,
			TargetDomain: string(l.TargetDomain),
		}
		err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "from_entry_id"}, {Name: "to_entry_id"}},
			DoNothing: true,
		}).Create(&link).Error
		if err != nil {
			return err
		}
	}

	return InvalidateCatalogCache()
}
