package session

import (
	"fmt"
	"strings"

	"github.com/osmundg/duckberry/internal/store"
)

// PerspectiveHeader builds the Norwegian prompt preamble that reinterprets
// the owner-centric profile facts for whoever the duck is talking to. The
// header is deterministic so prompts stay cache-friendly.
func PerspectiveHeader(v View, ownerName string, facts []store.ProfileFact) string {
	if v.Relation == store.RelationOwner {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Du snakker nå med %s", v.DisplayName)

	switch rel := v.Relation; rel {
	case "far":
		fmt.Fprintf(&b, ", faren til %s.\n", ownerName)
		fmt.Fprintf(&b, "VIKTIG: Fakta om \"faren\" handler om %s selv. ", v.DisplayName)
		fmt.Fprintf(&b, "%s sine søsken er barna til %s.\n", ownerName, v.DisplayName)
	case "mor":
		fmt.Fprintf(&b, ", moren til %s.\n", ownerName)
		fmt.Fprintf(&b, "VIKTIG: Fakta om \"moren\" handler om %s selv. ", v.DisplayName)
		fmt.Fprintf(&b, "%s sine søsken er barna til %s.\n", ownerName, v.DisplayName)
	case "søster":
		fmt.Fprintf(&b, ", søsteren til %s.\n", ownerName)
		fmt.Fprintf(&b, "VIKTIG: Fakta om \"søsteren\" kan handle om %s selv eller en annen søster. ", v.DisplayName)
		fmt.Fprintf(&b, "Foreldrene til %s er også foreldrene til %s.\n", ownerName, v.DisplayName)
	case "bror":
		fmt.Fprintf(&b, ", broren til %s.\n", ownerName)
		fmt.Fprintf(&b, "Foreldrene til %s er også foreldrene til %s.\n", ownerName, v.DisplayName)
	case "kollega":
		fmt.Fprintf(&b, ", en kollega av %s.\n", ownerName)
		b.WriteString("Ikke del familiedetaljer eller private fakta. Hold samtalen hyggelig og jobbrelevant.\n")
	case "venn":
		fmt.Fprintf(&b, ", en venn av %s.\n", ownerName)
		b.WriteString("Vær vennlig og uformell, men del ikke sensitive familiedetaljer.\n")
	case "gjest":
		fmt.Fprintf(&b, ", en gjest hos %s.\n", ownerName)
		b.WriteString("Vær høflig og hjelpsom, men ikke del personlige fakta om familien.\n")
	default:
		fmt.Fprintf(&b, " (%s av %s).\n", rel, ownerName)
		fmt.Fprintf(&b, "Husk at lagrede fakta er skrevet fra %s sitt perspektiv.\n", ownerName)
	}

	// Close family still gets the relevant facts, rephrased from their side.
	if isFamily(v.Relation) {
		lines := familyFactLines(v, ownerName, facts)
		if len(lines) > 0 {
			b.WriteString("Relevante fakta sett fra deres side:\n")
			for _, l := range lines {
				b.WriteString("- " + l + "\n")
			}
		}
	}

	fmt.Fprintf(&b, "Omtal %s i tredje person når det er naturlig.\n", ownerName)
	return b.String()
}

func isFamily(rel string) bool {
	switch rel {
	case "far", "mor", "søster", "bror", "svoger", "svigerinne", "barn", "familie":
		return true
	}
	return strings.Contains(rel, "bestemor") || strings.Contains(rel, "bestefar") ||
		strings.Contains(rel, "niese")
}

func familyFactLines(v View, ownerName string, facts []store.ProfileFact) []string {
	var lines []string
	for _, f := range facts {
		k := strings.ToLower(f.Key)
		if !strings.HasSuffix(k, "_name") {
			continue
		}
		rel := RelationFromKey(k)
		if strings.EqualFold(f.Value, v.DisplayName) {
			continue
		}
		switch v.Relation {
		case "far", "mor":
			// The owner's siblings are this person's children.
			if rel == "søster" || rel == "bror" {
				lines = append(lines, fmt.Sprintf("%s er barnet ditt (søsken av %s)", f.Value, ownerName))
			}
		case "søster", "bror":
			switch rel {
			case "far":
				lines = append(lines, fmt.Sprintf("%s er faren din også", f.Value))
			case "mor":
				lines = append(lines, fmt.Sprintf("%s er moren din også", f.Value))
			case "søster", "bror":
				lines = append(lines, fmt.Sprintf("%s er søskenet ditt", f.Value))
			}
		}
	}
	return lines
}
