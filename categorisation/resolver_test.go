package categorisation

import (
	"errors"
	"reflect"
	"testing"

	"github.com/custodia-platform/absences_backend/utils"
)

// testCatalog builds a small catalog mirroring the production seed shape:
// SR (security release) with sub-type RDR linking to category PW, which in
// turn links to reasons R15/R16; PP (police production) stands alone; C5
// is a sub-type with two category links (ambiguous derivation).
func testCatalog() *Catalog {
	entries := []Entry{
		{ID: 1, Domain: DomainType, Code: "SR", Description: "Security release", SequenceNumber: 1, Active: true},
		{ID: 2, Domain: DomainType, Code: "PP", Description: "Police production", SequenceNumber: 2, Active: true},
		{ID: 3, Domain: DomainSubType, Code: "RDR", Description: "Resettlement day release", SequenceNumber: 1, Active: true},
		{ID: 4, Domain: DomainSubType, Code: "C5", Description: "Childcare", SequenceNumber: 2, Active: true},
		{ID: 5, Domain: DomainReasonCategory, Code: "PW", Description: "Paid work", SequenceNumber: 1, Active: true},
		{ID: 6, Domain: DomainReasonCategory, Code: "FB", Description: "Family bonds", SequenceNumber: 2, Active: true},
		{ID: 7, Domain: DomainReasonCategory, Code: "ET", Description: "Education and training", SequenceNumber: 3, Active: true},
		{ID: 8, Domain: DomainReason, Code: "R15", Description: "Paid work placement", SequenceNumber: 1, Active: true},
		{ID: 9, Domain: DomainReason, Code: "R16", Description: "Voluntary work placement", SequenceNumber: 2, Active: true},
		{ID: 10, Domain: DomainReason, Code: "R20", Description: "Other", SequenceNumber: 3, Active: true},
		{ID: 11, Domain: DomainReason, Code: "R31", Description: "Funeral", SequenceNumber: 4, Active: true},
	}
	links := []Link{
		{FromEntryID: 1, ToEntryID: 3, TargetDomain: DomainSubType},
		{FromEntryID: 3, ToEntryID: 5, TargetDomain: DomainReasonCategory},
		{FromEntryID: 4, ToEntryID: 6, TargetDomain: DomainReasonCategory},
		{FromEntryID: 4, ToEntryID: 7, TargetDomain: DomainReasonCategory},
		{FromEntryID: 5, ToEntryID: 8, TargetDomain: DomainReason},
		{FromEntryID: 5, ToEntryID: 9, TargetDomain: DomainReason},
		{FromEntryID: 6, ToEntryID: 11, TargetDomain: DomainReason},
	}
	return NewCatalog(entries, links)
}

func TestResolve(t *testing.T) {
	cat := testCatalog()

	cases := []struct {
		name string
		req  ResolveRequest
		want ReasonPath
	}{
		{
			name: "category derived from sub-type link",
			req:  ResolveRequest{TypeCode: "SR", SubTypeCode: "RDR", ReasonCode: "R15"},
			want: ReasonPath{
				{Domain: DomainType, Code: "SR"},
				{Domain: DomainSubType, Code: "RDR"},
				{Domain: DomainReasonCategory, Code: "PW"},
				{Domain: DomainReason, Code: "R15"},
			},
		},
		{
			name: "type alone stays alone when nothing is derivable",
			req:  ResolveRequest{TypeCode: "PP"},
			want: ReasonPath{{Domain: DomainType, Code: "PP"}},
		},
		{
			name: "sub-type implied by type when omitted",
			req:  ResolveRequest{TypeCode: "SR", ReasonCode: "R15"},
			want: ReasonPath{
				{Domain: DomainType, Code: "SR"},
				{Domain: DomainSubType, Code: "RDR"},
				{Domain: DomainReasonCategory, Code: "PW"},
				{Domain: DomainReason, Code: "R15"},
			},
		},
		{
			name: "ambiguous sub-type derivation resolves no category",
			req:  ResolveRequest{SubTypeCode: "C5"},
			want: ReasonPath{{Domain: DomainSubType, Code: "C5"}},
		},
		{
			name: "ambiguous category from sub-type falls back to reason upstream",
			req:  ResolveRequest{SubTypeCode: "C5", ReasonCode: "R31"},
			want: ReasonPath{
				{Domain: DomainSubType, Code: "C5"},
				{Domain: DomainReasonCategory, Code: "FB"},
				{Domain: DomainReason, Code: "R31"},
			},
		},
		{
			name: "bare reason yields a length-1 path",
			req:  ResolveRequest{ReasonCode: "R20"},
			want: ReasonPath{{Domain: DomainReason, Code: "R20"}},
		},
		{
			name: "explicit category beats derivation",
			req:  ResolveRequest{TypeCode: "SR", SubTypeCode: "RDR", ReasonCategoryCode: "FB", ReasonCode: "R31"},
			want: ReasonPath{
				{Domain: DomainType, Code: "SR"},
				{Domain: DomainSubType, Code: "RDR"},
				{Domain: DomainReasonCategory, Code: "FB"},
				{Domain: DomainReason, Code: "R31"},
			},
		},
		{
			name: "reason dropped when category has no reason links",
			req:  ResolveRequest{TypeCode: "SR", SubTypeCode: "RDR", ReasonCategoryCode: "ET", ReasonCode: "R15"},
			want: ReasonPath{
				{Domain: DomainType, Code: "SR"},
				{Domain: DomainSubType, Code: "RDR"},
				{Domain: DomainReasonCategory, Code: "ET"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.req, cat)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Resolve mismatch\n got:  %v\n want: %v", got, tc.want)
			}
		})
	}
}

func TestResolveUnknownCode(t *testing.T) {
	cat := testCatalog()

	_, err := Resolve(ResolveRequest{TypeCode: "NOPE"}, cat)
	if err == nil {
		t.Fatal("expected error for unknown type code")
	}
	var de *utils.DomainError
	if !errors.As(err, &de) || de.Kind != utils.ErrKindCategorisationNotFound {
		t.Fatalf("expected CATEGORISATION_NOT_FOUND, got %v", err)
	}

	_, err = Resolve(ResolveRequest{TypeCode: "SR", ReasonCode: "R99"}, cat)
	if utils.KindOf(err) != utils.ErrKindCategorisationNotFound {
		t.Fatalf("expected CATEGORISATION_NOT_FOUND for unknown reason, got %v", err)
	}
}

func TestResolveIdempotent(t *testing.T) {
	cat := testCatalog()

	reqs := []ResolveRequest{
		{TypeCode: "SR", SubTypeCode: "RDR", ReasonCode: "R15"},
		{TypeCode: "PP"},
		{ReasonCode: "R20"},
		{SubTypeCode: "C5", ReasonCode: "R31"},
	}
	for _, req := range reqs {
		first, err := Resolve(req, cat)
		if err != nil {
			t.Fatalf("Resolve(%+v): %v", req, err)
		}
		second, err := ResolveFromPath(first, cat)
		if err != nil {
			t.Fatalf("ResolveFromPath(%v): %v", first, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("re-resolving is not idempotent\n first:  %v\n second: %v", first, second)
		}
	}
}

func TestReasonPathJSONRoundTrip(t *testing.T) {
	cat := testCatalog()
	path, err := Resolve(ResolveRequest{TypeCode: "SR", SubTypeCode: "RDR", ReasonCode: "R15"}, cat)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	parsed, err := ParseReasonPath(path.JSON())
	if err != nil {
		t.Fatalf("ParseReasonPath: %v", err)
	}
	if !reflect.DeepEqual(path, parsed) {
		t.Fatalf("JSON round trip mismatch: %v vs %v", path, parsed)
	}
}
