package entity_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/nucleus/ucl-sync/pkg/entity"
)

func TestOrder_DimensionsBeforeFacts(t *testing.T) {
	got := entity.Order([]string{"fact_a", "dim_b", "fact_c", "dim_d"}, nil)
	want := []string{"dim_b", "dim_d", "fact_a", "fact_c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Order() = %v, want %v", got, want)
	}
}

func TestOrder_UnknownLastAndDeterministic(t *testing.T) {
	in := []string{"zeta", "fact_sales", "alpha", "dim_store", "fact_sales"}
	want := []string{"dim_store", "fact_sales", "alpha", "zeta"}

	for i := 0; i < 3; i++ {
		got := entity.Order(in, entity.NewClassifier(nil))
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: Order() = %v, want %v", i, got, want)
		}
	}
}

func TestClassifier_OverridesWin(t *testing.T) {
	c := entity.NewClassifier(map[string]entity.Kind{
		"customers":   entity.KindDimension,
		"dim_archive": entity.KindFact,
	})

	if k := c.Kind("customers"); k != entity.KindDimension {
		t.Errorf("customers = %s, want dimension", k)
	}
	if k := c.Kind("dim_archive"); k != entity.KindFact {
		t.Errorf("dim_archive = %s, want fact", k)
	}
	if k := c.Kind("FACT_payment"); k != entity.KindFact {
		t.Errorf("FACT_payment = %s, want fact", k)
	}

	tiers := entity.Tiers([]string{"orders", "customers", "dim_archive"}, c)
	want := [][]string{{"customers"}, {"dim_archive"}, {"orders"}}
	if !reflect.DeepEqual(tiers, want) {
		t.Errorf("Tiers() = %v, want %v", tiers, want)
	}
}

func TestKind_TextRoundTrip(t *testing.T) {
	var e entity.Entity
	if err := json.Unmarshal([]byte(`{"name":"x","kind":"dim"}`), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Kind != entity.KindDimension {
		t.Errorf("kind = %s, want dimension", e.Kind)
	}

	if _, err := entity.ParseKind("bridge"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
