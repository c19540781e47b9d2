package categorisation

// Package categorisation resolves the variable-depth absence categorisation
// hierarchy (type -> sub-type -> reason-category -> reason) from partial,
// link-derived input. It is deliberately DB-free: callers load a Catalog
// snapshot once per operation and treat it as immutable for the duration.

type Domain string

const (
	DomainType           Domain = "ABSENCE_TYPE"
	DomainSubType        Domain = "ABSENCE_SUB_TYPE"
	DomainReasonCategory Domain = "REASON_CATEGORY"
	DomainReason         Domain = "REASON"
	DomainAccompaniment  Domain = "ACCOMPANIMENT"
	DomainTransport      Domain = "TRANSPORT"
	DomainStatus         Domain = "STATUS"
)

// Entry is one coded lookup value inside a domain.
type Entry struct {
	ID             int
	Domain         Domain
	Code           string
	Description    string
	SequenceNumber int
	Active         bool
}

// Link is a directed edge expressing "the from-entry implies/derives the
// to-entry in the target domain".
type Link struct {
	FromEntryID  int
	ToEntryID    int
	TargetDomain Domain
}

// Catalog is an immutable snapshot of reference entries and links for one
// reconciliation or action run.
type Catalog struct {
	byDomainCode map[Domain]map[string]*Entry
	byID         map[int]*Entry
	linksFrom    map[int][]Link
	linksTo      map[int][]Link
}

func NewCatalog(entries []Entry, links []Link) *Catalog {
	c := &Catalog{
		byDomainCode: make(map[Domain]map[string]*Entry),
		byID:         make(map[int]*Entry, len(entries)),
		linksFrom:    make(map[int][]Link),
		linksTo:      make(map[int][]Link),
	}
	for i := range entries {
		e := &entries[i]
		if c.byDomainCode[e.Domain] == nil {
			c.byDomainCode[e.Domain] = make(map[string]*Entry)
		}
		c.byDomainCode[e.Domain][e.Code] = e
		c.byID[e.ID] = e
	}
	for _, l := range links {
		c.linksFrom[l.FromEntryID] = append(c.linksFrom[l.FromEntryID], l)
		c.linksTo[l.ToEntryID] = append(c.linksTo[l.ToEntryID], l)
	}
	return c
}

// Lookup finds an active entry by domain and code.
func (c *Catalog) Lookup(domain Domain, code string) (*Entry, bool) {
	m := c.byDomainCode[domain]
	if m == nil {
		return nil, false
	}
	e, ok := m[code]
	if !ok || !e.Active {
		return nil, false
	}
	return e, true
}

// EntryByID returns the entry for an internal id, active or not.
func (c *Catalog) EntryByID(id int) (*Entry, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// LinkedTargets follows links out of fromID and returns the active entries
// they land on in the target domain.
func (c *Catalog) LinkedTargets(fromID int, target Domain) []*Entry {
	var out []*Entry
	for _, l := range c.linksFrom[fromID] {
		if l.TargetDomain != target {
			continue
		}
		if e, ok := c.byID[l.ToEntryID]; ok && e.Active && e.Domain == target {
			out = append(out, e)
		}
	}
	return out
}

// LinkedSources walks links into toID and returns the active entries they
// originate from in the source domain.
func (c *Catalog) LinkedSources(toID int, source Domain) []*Entry {
	var out []*Entry
	for _, l := range c.linksTo[toID] {
		if e, ok := c.byID[l.FromEntryID]; ok && e.Active && e.Domain == source {
			out = append(out, e)
		}
	}
	return out
}

// HasLinkToDomain reports whether fromID has at least one link landing in
// the given domain.
func (c *Catalog) HasLinkToDomain(fromID int, target Domain) bool {
	for _, l := range c.linksFrom[fromID] {
		if l.TargetDomain == target {
			return true
		}
	}
	return false
}
