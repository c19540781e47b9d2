package models

import (
	"context"
	"time"

	"github.com/custodia-platform/absences_backend/categorisation"
	"github.com/custodia-platform/absences_backend/config"
)

// ReferenceEntry is one coded lookup value in a categorisation domain.
// Entries are immutable once loaded for a reconciliation run.
type ReferenceEntry struct {
	ID             int       `gorm:"primary_key" json:"id"`
	Domain         string    `gorm:"size:40;not null;uniqueIndex:uniq_domain_code,priority:1" json:"domain"`
	Code           string    `gorm:"size:40;not null;uniqueIndex:uniq_domain_code,priority:2" json:"code"`
	Description    string    `gorm:"size:255" json:"description"`
	SequenceNumber int       `gorm:"not null;default:0" json:"sequence_number"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReferenceLink is a directed edge: the from-entry implies/derives the
// to-entry in the target domain.
type ReferenceLink struct {
	ID           int       `gorm:"primary_key" json:"id"`
	FromEntryId  int       `gorm:"not null;index;uniqueIndex:uniq_ref_link,priority:1" json:"from_entry_id"`
	ToEntryId    int       `gorm:"not null;index;uniqueIndex:uniq_ref_link,priority:2" json:"to_entry_id"`
	TargetDomain string    `gorm:"size:40;not null" json:"target_domain"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const catalogCacheKey = "ReferenceCatalog"

// CatalogCacheTTL bounds how stale a cached catalog snapshot may be.
var CatalogCacheTTL = 5 * time.Minute

type catalogCachePayload struct {
	Entries []categorisation.Entry `json:"entries"`
	Links   []categorisation.Link  `json:"links"`
}

// LoadCatalog returns the reference catalog as an immutable snapshot for
// one operation. Reads go through redis first; a cache miss loads from the
// database and repopulates the cache.
func LoadCatalog(ctx context.Context) (*categorisation.Catalog, error) {
	var payload catalogCachePayload
	if exists, err := config.GetRedisObject(catalogCacheKey, &payload); err == nil && exists {
		return categorisation.NewCatalog(payload.Entries, payload.Links), nil
	}

	db := config.GetDB()

	var rows []ReferenceEntry
	if err := db.WithContext(ctx).Order("domain, sequence_number, code").Find(&rows).Error; err != nil {
		return nil, err
	}
	var linkRows []ReferenceLink
	if err := db.WithContext(ctx).Find(&linkRows).Error; err != nil {
		return nil, err
	}

	payload = catalogCachePayload{
		Entries: make([]categorisation.Entry, 0, len(rows)),
		Links:   make([]categorisation.Link, 0, len(linkRows)),
	}
	for _, r := range rows {
		payload.Entries = append(payload.Entries, categorisation.Entry{
			ID:             r.ID,
			Domain:         categorisation.Domain(r.Domain),
			Code:           r.Code,
			Description:    r.Description,
			SequenceNumber: r.SequenceNumber,
			Active:         r.IsActive == nil || *r.IsActive,
		})
	}
	for _, l := range linkRows {
		payload.Links = append(payload.Links, categorisation.Link{
			FromEntryID:  l.FromEntryId,
			ToEntryID:    l.ToEntryId,
			TargetDomain: categorisation.Domain(l.TargetDomain),
		})
	}

	_ = config.SetRedisObject(catalogCacheKey, &payload, CatalogCacheTTL)

	return categorisation.NewCatalog(payload.Entries, payload.Links), nil
}

// InvalidateCatalogCache drops the cached snapshot; call after seeding or
// editing reference data.
func InvalidateCatalogCache() error {
	return config.RemoveRedisKey(catalogCacheKey)
}
