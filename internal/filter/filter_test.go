package filter

import (
	"testing"

	"github.com/mikrodb/mikrodb/internal/types"
)

func record(key string, age int32, tags ...string) types.KeyedRecord {
	tagVals := make([]types.Value, len(tags))
	for i, t := range tags {
		tagVals[i] = types.String(t)
	}
	return types.KeyedRecord{
		Key: key,
		Record: types.Record{
			Value: types.Object([]types.ObjectEntry{
				{Key: "name", Value: types.String(key)},
				{Key: "age", Value: types.I32(age)},
				{Key: "tags", Value: types.Array(tagVals)},
			}),
		},
	}
}

func TestMatchesEqualityOnLeafValue(t *testing.T) {
	r := record("alice", 30, "admin")
	expr := Expression{"age": Condition{Operator: "eq", Value: float64(30)}}
	if !Matches(r.Record.Value, expr) {
		t.Fatal("Matches: want true for age eq 30")
	}
}

func TestMatchesBareValueEquality(t *testing.T) {
	r := record("bob", 25)
	expr := Expression{"name": "bob"}
	if !Matches(r.Record.Value, expr) {
		t.Fatal("Matches: want true for bare-value equality on name")
	}
}

func TestMatchesMissingFieldShortCircuitsFalse(t *testing.T) {
	r := record("carol", 40)
	expr := Expression{"nonexistent": Condition{Operator: "eq", Value: "x"}}
	if Matches(r.Record.Value, expr) {
		t.Fatal("Matches: want false when the field path does not resolve")
	}
}

func TestMatchesBetween(t *testing.T) {
	r := record("dave", 50)
	expr := Expression{"age": Condition{Operator: "between", Value: []interface{}{float64(18), float64(65)}}}
	if !Matches(r.Record.Value, expr) {
		t.Fatal("Matches: want true, 50 is between 18 and 65")
	}

	outOfRange := Expression{"age": Condition{Operator: "between", Value: []interface{}{float64(60), float64(65)}}}
	if Matches(r.Record.Value, outOfRange) {
		t.Fatal("Matches: want false, 50 is not between 60 and 65")
	}
}

func TestMatchesOrDisjunction(t *testing.T) {
	r := record("erin", 19)
	expr := Expression{
		"$or": []interface{}{
			Expression{"age": Condition{Operator: "eq", Value: float64(18)}},
			Expression{"age": Condition{Operator: "eq", Value: float64(19)}},
		},
	}
	if !Matches(r.Record.Value, expr) {
		t.Fatal("Matches: want true, age matches the second $or branch")
	}

	none := Expression{
		"$or": []interface{}{
			Expression{"age": Condition{Operator: "eq", Value: float64(1)}},
			Expression{"age": Condition{Operator: "eq", Value: float64(2)}},
		},
	}
	if Matches(r.Record.Value, none) {
		t.Fatal("Matches: want false, neither $or branch matches")
	}
}

func TestMatchesContainsOnArrayField(t *testing.T) {
	r := record("frank", 33, "admin", "editor")
	expr := Expression{"tags": Condition{Operator: "contains", Value: "editor"}}
	if !Matches(r.Record.Value, expr) {
		t.Fatal("Matches: want true, tags contains editor")
	}

	expr2 := Expression{"tags": Condition{Operator: "containsAll", Value: []interface{}{"admin", "editor"}}}
	if !Matches(r.Record.Value, expr2) {
		t.Fatal("Matches: want true, tags contains all of admin and editor")
	}

	expr3 := Expression{"tags": Condition{Operator: "containsAny", Value: []interface{}{"viewer", "editor"}}}
	if !Matches(r.Record.Value, expr3) {
		t.Fatal("Matches: want true, tags contains at least one of viewer/editor")
	}
}

func TestMatchesNestedDotPath(t *testing.T) {
	nested := types.Object([]types.ObjectEntry{
		{Key: "address", Value: types.Object([]types.ObjectEntry{
			{Key: "city", Value: types.String("Metropolis")},
		})},
	})
	expr := Expression{"address.city": "Metropolis"}
	if !Matches(nested, expr) {
		t.Fatal("Matches: want true for dot-path into a nested object")
	}
}

func TestApplySortOffsetLimit(t *testing.T) {
	records := []types.KeyedRecord{
		record("a", 30),
		record("b", 10),
		record("c", 20),
	}
	byAge := func(a, b types.KeyedRecord) bool {
		av, _ := a.Record.Value.ObjectGet("age")
		bv, _ := b.Record.Value.ObjectGet("age")
		return av.I32 < bv.I32
	}

	out := Apply(records, Options{Sort: byAge})
	if len(out) != 3 || out[0].Key != "b" || out[1].Key != "c" || out[2].Key != "a" {
		t.Fatalf("Apply sort: got %v, want [b c a] ordered by age ascending", out)
	}

	limited := Apply(records, Options{Sort: byAge, Offset: 1, Limit: 1})
	if len(limited) != 1 || limited[0].Key != "c" {
		t.Fatalf("Apply offset+limit: got %v, want [c]", limited)
	}
}

func TestGetValueArrayIndex(t *testing.T) {
	doc := map[string]interface{}{
		"items": []interface{}{"x", "y", "z"},
	}
	v, ok := GetValue(doc, ParsePath("items.1"))
	if !ok || v != "y" {
		t.Fatalf("GetValue: got (%v, %v), want (y, true)", v, ok)
	}
}
