package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestUpdateFieldMaintainsAtMostOneActiveAndCompleteSupersessionProperty
// verifies spec.md §8 properties 3 and 4: after any sequence of
// update_field(name=...) calls, each field has at most one ACTIVE entry,
// and every SUPERSEDED entry's SupersededByID resolves to an entry that
// actually exists.
func TestUpdateFieldMaintainsAtMostOneActiveAndCompleteSupersessionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one ACTIVE entry per field and a complete supersession chain", prop.ForAll(
		func(updateCount int) bool {
			p := NewInterlocutorProfile(NewID(), NewID())
			now := time.Now()
			const fieldName = "shipping_address"

			for i := 0; i < updateCount; i++ {
				p.UpdateField(fieldName, i, "int", "user", 1.0, now.Add(time.Duration(i)*time.Second))
			}

			activeCount := 0
			for _, e := range p.Fields[fieldName] {
				if e.Status == FieldActive {
					activeCount++
				}
			}
			if activeCount > 1 {
				return false
			}
			if updateCount > 0 && activeCount != 1 {
				return false
			}
			return p.SupersessionChainComplete()
		},
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}

// TestUpdateFieldAcrossMultipleFieldsProperty checks the same invariant
// holds independently per field name when updates interleave across
// several distinct fields on the same profile.
func TestUpdateFieldAcrossMultipleFieldsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	fieldNames := []string{"shipping_address", "phone", "email"}

	properties.Property("at most one ACTIVE entry per field, independent of other fields", prop.ForAll(
		func(picks []int) bool {
			p := NewInterlocutorProfile(NewID(), NewID())
			now := time.Now()
			for i, pick := range picks {
				name := fieldNames[pick%len(fieldNames)]
				p.UpdateField(name, i, "int", "user", 1.0, now.Add(time.Duration(i)*time.Second))
			}
			for _, name := range fieldNames {
				activeCount := 0
				for _, e := range p.Fields[name] {
					if e.Status == FieldActive {
						activeCount++
					}
				}
				if activeCount > 1 {
					return false
				}
			}
			return p.SupersessionChainComplete()
		},
		gen.SliceOfN(20, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
