package session

import (
	"strings"
	"testing"

	"github.com/osmundg/duckberry/internal/store"
)

func TestPerspectiveHeaderOwnerEmpty(t *testing.T) {
	v := View{Username: "Osmund", DisplayName: "Osmund", Relation: store.RelationOwner}
	if h := PerspectiveHeader(v, "Osmund", nil); h != "" {
		t.Errorf("owner header = %q, want empty", h)
	}
}

func TestPerspectiveHeaderMother(t *testing.T) {
	facts := []store.ProfileFact{
		{Key: "mother_name", Value: "Anne"},
		{Key: "sister_name", Value: "Kari"},
		{Key: "favorite_food_name", Value: "Taco"},
	}
	v := View{Username: "Anne", DisplayName: "Anne", Relation: "mor"}
	h := PerspectiveHeader(v, "Osmund", facts)

	if !strings.Contains(h, "moren til Osmund") {
		t.Errorf("header missing relation line: %q", h)
	}
	// the owner's sister is her child
	if !strings.Contains(h, "Kari er barnet ditt") {
		t.Errorf("header missing reinterpreted sibling fact: %q", h)
	}
	// her own name fact must not be echoed back at her
	if strings.Contains(h, "Anne er") {
		t.Errorf("header leaks the speaker's own fact: %q", h)
	}
	if !strings.Contains(h, "tredje person") {
		t.Errorf("header missing third-person instruction: %q", h)
	}
}

func TestPerspectiveHeaderSiblingSharesParents(t *testing.T) {
	facts := []store.ProfileFact{
		{Key: "father_name", Value: "Per"},
		{Key: "mother_name", Value: "Anne"},
	}
	v := View{Username: "Kari", DisplayName: "Kari", Relation: "søster"}
	h := PerspectiveHeader(v, "Osmund", facts)

	if !strings.Contains(h, "Per er faren din også") {
		t.Errorf("header missing shared father: %q", h)
	}
	if !strings.Contains(h, "Anne er moren din også") {
		t.Errorf("header missing shared mother: %q", h)
	}
}

func TestPerspectiveHeaderGuestWithholdsFacts(t *testing.T) {
	facts := []store.ProfileFact{{Key: "sister_name", Value: "Kari"}}
	v := View{Username: "Ukjent", DisplayName: "Ukjent", Relation: "gjest"}
	h := PerspectiveHeader(v, "Osmund", facts)

	if strings.Contains(h, "Kari") {
		t.Errorf("guest header must not include family facts: %q", h)
	}
	if !strings.Contains(h, "gjest hos Osmund") {
		t.Errorf("header missing guest framing: %q", h)
	}
}
