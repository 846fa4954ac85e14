package database

import (
	"fmt"
	"testing"
)

func personIDs(persons []Person) []string {
	ids := make([]string, len(persons))
	for i, p := range persons {
		ids[i] = p.ID
	}
	return ids
}

func TestRankPersons_NamedBeforeUnnamed(t *testing.T) {
	persons := []Person{
		{ID: "p1", Name: "", FaceCount: 5},
		{ID: "p2", Name: "Bob", FaceCount: 5},
		{ID: "p3", Name: "", FaceCount: 2},
	}

	got := personIDs(RankPersons(persons, PersonSearchOptions{}))
	want := []string{"p2", "p1", "p3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("RankPersons() = %v, want %v", got, want)
	}
}

func TestRankPersons_FullOrder(t *testing.T) {
	persons := []Person{
		{ID: "hidden-named", Name: "Zed", FaceCount: 50, IsHidden: true},
		{ID: "unnamed-9", FaceCount: 9},
		{ID: "carol", Name: "Carol", FaceCount: 3},
		{ID: "alice", Name: "Alice", FaceCount: 3},
		{ID: "bob", Name: "Bob", FaceCount: 7},
		{ID: "hidden-unnamed", FaceCount: 100, IsHidden: true},
	}

	got := personIDs(RankPersons(persons, PersonSearchOptions{WithHidden: true}))
	want := []string{"bob", "alice", "carol", "unnamed-9", "hidden-named", "hidden-unnamed"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("RankPersons() = %v, want %v", got, want)
	}
}

func TestRankPersons_ExcludesHiddenByDefault(t *testing.T) {
	persons := []Person{
		{ID: "a", Name: "A", FaceCount: 1},
		{ID: "b", Name: "B", FaceCount: 1, IsHidden: true},
	}

	got := RankPersons(persons, PersonSearchOptions{})
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("expected only visible person, got %v", personIDs(got))
	}
}

func TestRankPersons_MinimumFaceCount(t *testing.T) {
	persons := []Person{
		{ID: "none", Name: "None", FaceCount: 0},
		{ID: "one", Name: "One", FaceCount: 1},
		{ID: "three", Name: "Three", FaceCount: 3},
	}

	tests := []struct {
		name     string
		minFaces int
		want     []string
	}{
		{"default is one", 0, []string{"three", "one"}},
		{"explicit three", 3, []string{"three"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := personIDs(RankPersons(persons, PersonSearchOptions{MinimumFaceCount: tc.minFaces}))
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRankPersons_Deterministic(t *testing.T) {
	persons := []Person{
		{ID: "b", FaceCount: 2},
		{ID: "a", FaceCount: 2},
	}
	reversed := []Person{persons[1], persons[0]}

	first := fmt.Sprint(personIDs(RankPersons(persons, PersonSearchOptions{})))
	second := fmt.Sprint(personIDs(RankPersons(reversed, PersonSearchOptions{})))
	if first != second {
		t.Errorf("order depends on input order: %s vs %s", first, second)
	}
}

func TestRankPersons_Limit(t *testing.T) {
	persons := make([]Person, PersonRankLimit+20)
	for i := range persons {
		persons[i] = Person{ID: fmt.Sprintf("p%04d", i), FaceCount: 1}
	}

	if got := RankPersons(persons, PersonSearchOptions{}); len(got) != PersonRankLimit {
		t.Errorf("expected %d persons, got %d", PersonRankLimit, len(got))
	}
}
