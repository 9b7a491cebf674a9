package fingerprint

import (
	"strings"
	"testing"
)

func TestFromStringDeterministic(t *testing.T) {
	content := "1. What is the capital of France?\na) Berlin\nb) Paris"

	first := FromString(content)
	second := FromString(content)

	if first != second {
		t.Errorf("Same content produced different fingerprints: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("Fingerprint length mismatch: got %d, want 64 hex chars", len(first))
	}
	if strings.ToLower(first) != first {
		t.Errorf("Fingerprint should be lowercase hex: %s", first)
	}
}

func TestFromStringDistinguishesContent(t *testing.T) {
	a := FromString("document one")
	b := FromString("document two")

	if a == b {
		t.Error("Different content produced the same fingerprint")
	}
}

func TestFromBytesMatchesFromString(t *testing.T) {
	content := "shared content"
	if FromBytes([]byte(content)) != FromString(content) {
		t.Error("FromBytes and FromString disagree on identical content")
	}
}

func TestFromImageSetOrderIndependent(t *testing.T) {
	pages := []ImagePage{
		{Name: "page-1.png", Size: 1024},
		{Name: "page-2.png", Size: 2048},
		{Name: "page-3.png", Size: 512},
	}
	reversed := []ImagePage{pages[2], pages[0], pages[1]}

	if FromImageSet(pages) != FromImageSet(reversed) {
		t.Error("Upload order changed the image set fingerprint")
	}
}

func TestFromImageSetSensitivity(t *testing.T) {
	base := []ImagePage{
		{Name: "page-1.png", Size: 1024},
		{Name: "page-2.png", Size: 2048},
	}
	baseFP := FromImageSet(base)

	renamed := []ImagePage{
		{Name: "page-1.png", Size: 1024},
		{Name: "page-2-scan.png", Size: 2048},
	}
	if FromImageSet(renamed) == baseFP {
		t.Error("Renaming a page should change the fingerprint")
	}

	resized := []ImagePage{
		{Name: "page-1.png", Size: 1024},
		{Name: "page-2.png", Size: 2049},
	}
	if FromImageSet(resized) == baseFP {
		t.Error("Resizing a page should change the fingerprint")
	}

	subset := base[:1]
	if FromImageSet(subset) == baseFP {
		t.Error("Dropping a page should change the fingerprint")
	}
}

func TestFromImageSetDoesNotMutateInput(t *testing.T) {
	pages := []ImagePage{
		{Name: "z.png", Size: 3},
		{Name: "a.png", Size: 1},
	}
	FromImageSet(pages)

	if pages[0].Name != "z.png" || pages[1].Name != "a.png" {
		t.Errorf("Input slice was reordered: %+v", pages)
	}
}
