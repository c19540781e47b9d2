package categorisation

import (
	"encoding/json"

	"github.com/custodia-platform/absences_backend/utils"
)

// PathStep is one resolved (domain, code) pair of a ReasonPath.
type PathStep struct {
	Domain Domain `json:"domain"`
	Code   string `json:"code"`
}

// ReasonPath is the ordered, resolved categorisation of an authorisation or
// occurrence. Domains always appear in canonical order (type, sub-type,
// reason-category, reason); length 0-4.
type ReasonPath []PathStep

func (p ReasonPath) CodeFor(domain Domain) (string, bool) {
	for _, s := range p {
		if s.Domain == domain {
			return s.Code, true
		}
	}
	return "", false
}

func (p ReasonPath) JSON() string {
	if len(p) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(p)
	return string(b)
}

func ParseReasonPath(raw string) (ReasonPath, error) {
	if raw == "" {
		return nil, nil
	}
	var p ReasonPath
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return p, nil
}

// ResolveRequest carries the partial set of requested categorisation codes.
// Empty fields mean "not requested"; derivation rules fill what they can.
type ResolveRequest struct {
	TypeCode           string
	SubTypeCode        string
	ReasonCategoryCode string
	ReasonCode         string
}

// Resolve computes the authoritative ReasonPath for a request against the
// catalog snapshot.
//
// Unknown codes fail with a CATEGORISATION_NOT_FOUND error. Missing pieces
// are derived from link records where the derivation is unambiguous; an
// ambiguous derivation (several candidates) is treated as "no category",
// never as an error. An explicitly requested code always beats a derived
// one. When nothing structured resolves at all, an explicit reason still
// yields a minimal reason-only path.
func Resolve(req ResolveRequest, cat *Catalog) (ReasonPath, error) {
	var (
		typeEntry     *Entry
		subTypeEntry  *Entry
		categoryEntry *Entry
		reasonEntry   *Entry
	)

	if req.TypeCode != "" {
		e, ok := cat.Lookup(DomainType, req.TypeCode)
		if !ok {
			return nil, utils.ErrCategorisationNotFound("absence type %q not found", req.TypeCode)
		}
		typeEntry = e
	}
	if req.SubTypeCode != "" {
		e, ok := cat.Lookup(DomainSubType, req.SubTypeCode)
		if !ok {
			return nil, utils.ErrCategorisationNotFound("absence sub-type %q not found", req.SubTypeCode)
		}
		subTypeEntry = e
	}
	if req.ReasonCategoryCode != "" {
		e, ok := cat.Lookup(DomainReasonCategory, req.ReasonCategoryCode)
		if !ok {
			return nil, utils.ErrCategorisationNotFound("reason category %q not found", req.ReasonCategoryCode)
		}
		categoryEntry = e
	}
	if req.ReasonCode != "" {
		e, ok := cat.Lookup(DomainReason, req.ReasonCode)
		if !ok {
			return nil, utils.ErrCategorisationNotFound("absence reason %q not found", req.ReasonCode)
		}
		reasonEntry = e
	}

	// Derive a sub-type from the type when none was requested and the type
	// implies exactly one.
	if subTypeEntry == nil && typeEntry != nil {
		if implied := cat.LinkedTargets(typeEntry.ID, DomainSubType); len(implied) == 1 {
			subTypeEntry = implied[0]
		}
	}

	// Derive the reason-category when not explicitly requested: first from
	// the sub-type's outgoing links, then from the reason's upstream links.
	// Multiple candidates mean "no category resolved" - not a tie-break.
	if categoryEntry == nil {
		if subTypeEntry != nil {
			if derived := cat.LinkedTargets(subTypeEntry.ID, DomainReasonCategory); len(derived) == 1 {
				categoryEntry = derived[0]
			}
		}
		if categoryEntry == nil && reasonEntry != nil {
			if upstream := cat.LinkedSources(reasonEntry.ID, DomainReasonCategory); len(upstream) == 1 {
				categoryEntry = upstream[0]
			}
		}
	}

	var path ReasonPath
	if typeEntry != nil {
		path = append(path, PathStep{Domain: DomainType, Code: typeEntry.Code})
	}
	if subTypeEntry != nil {
		path = append(path, PathStep{Domain: DomainSubType, Code: subTypeEntry.Code})
	}
	if categoryEntry != nil {
		path = append(path, PathStep{Domain: DomainReasonCategory, Code: categoryEntry.Code})
	}
	if reasonEntry != nil {
		switch {
		case categoryEntry != nil && cat.HasLinkToDomain(categoryEntry.ID, DomainReason):
			path = append(path, PathStep{Domain: DomainReason, Code: reasonEntry.Code})
		case typeEntry == nil && subTypeEntry == nil && categoryEntry == nil:
			// Bare-reason fallback: absence of any structured category still
			// yields a minimal reason-only path.
			path = append(path, PathStep{Domain: DomainReason, Code: reasonEntry.Code})
		}
	}
	return path, nil
}

// ResolveFromPath re-resolves a previously stored path's codes. Resolution
// is idempotent: the result equals the stored path for any path this
// package produced against the same catalog.
func ResolveFromPath(p ReasonPath, cat *Catalog) (ReasonPath, error) {
	var req ResolveRequest
	if code, ok := p.CodeFor(DomainType); ok {
		req.TypeCode = code
	}
	if code, ok := p.CodeFor(DomainSubType); ok {
		req.SubTypeCode = code
	}
	if code, ok := p.CodeFor(DomainReasonCategory); ok {
		req.ReasonCategoryCode = code
	}
	if code, ok := p.CodeFor(DomainReason); ok {
		req.ReasonCode = code
	}
	return Resolve(req, cat)
}
